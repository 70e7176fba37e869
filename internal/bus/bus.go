package bus

// Bus is the cross-process pub/sub contract consumed by the broadcast
// layer. Publish is fire-and-forget from the caller's perspective: it
// stages the envelope synchronously and reports only staging failures;
// delivery, retry, and dead-letter outcomes surface through
// observability, never to the caller.
type Bus interface {
	// Publish stages an encoded envelope for the subject.
	Publish(subject string, data []byte) error
	// Subscribe registers a callback for a subject pattern. Callbacks
	// run outside the publish path on a dispatch goroutine.
	Subscribe(subject string, handler MsgHandler) (Subscription, error)
	// Close drains subscriptions and stops the publish worker.
	Close()
}

// Subscription is a live bus subscription.
type Subscription interface {
	// Unsubscribe removes the subscription and stops its dispatcher.
	Unsubscribe() error
}
