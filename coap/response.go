package coap

// Response is this module's CoapResponse (spec §3).
type Response struct {
	Status      Status
	ContentType ContentType
	Payload     []byte

	// Path echoes the observation path for notifications delivered
	// out-of-band by the scheduler (spec §3 "path echo for
	// observations").
	Path string

	// Token is the token this response matched against, so the scheduler
	// and observation registry can route it without re-parsing.
	Token []byte

	// HasBlock1/HasBlock2 report whether the corresponding option was
	// present on the wire message this Response was built from.
	HasBlock1 bool
	Block1    BlockOption
	HasBlock2 bool
	Block2    BlockOption

	// Size1/Size2 surface the declared total size when the server sends
	// it on the first blockwise response (spec §4.7).
	Size1 uint32
	Size2 uint32

	// ObserveSeq is the Observe option's sequence number, present only on
	// notifications.
	ObserveSeq uint32
	HasObserve bool
}
