package domain

// MessageBus routes events from channels to the pipeline and deliveries back.
type MessageBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(d Delivery)
	OnOutbound(channelName string, handler func(Delivery))
	Close()
}
