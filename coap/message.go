package coap

import "fmt"

// Method enumerates the CoAP request kinds the services issue (spec §3
// "CoapRequest.Kind"). BlockGet/BlockPost are not separate wire methods —
// they reuse GET/POST with Block1/Block2 options set — but are kept as
// distinct Kind values because the scheduler and blockwise engine branch
// on them to decide whether to negotiate block size up front.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodObserve
	MethodCancelObserve
	MethodPing
	MethodBlockGet
	MethodBlockPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	case MethodObserve:
		return "OBSERVE"
	case MethodCancelObserve:
		return "CANCEL_OBSERVE"
	case MethodPing:
		return "PING"
	case MethodBlockGet:
		return "BLOCK_GET"
	case MethodBlockPost:
		return "BLOCK_POST"
	default:
		return "UNKNOWN"
	}
}

// ContentType enumerates the payload encodings the services use (spec §6
// "Content types"), mapped to CoAP Content-Format numbers.
type ContentType int

const (
	ContentTypeAny ContentType = iota
	ContentTypeText
	ContentTypeJSON
	ContentTypeCBOR
	ContentTypeOctetStream
)

// contentFormat is the RFC 7252 / IANA Content-Format registry value for
// each ContentType.
var contentFormat = map[ContentType]uint32{
	ContentTypeText:        0,
	ContentTypeJSON:        50,
	ContentTypeCBOR:        60,
	ContentTypeOctetStream: 42,
}

var formatToContentType = map[uint32]ContentType{
	0:  ContentTypeText,
	50: ContentTypeJSON,
	60: ContentTypeCBOR,
	42: ContentTypeOctetStream,
}

// ContentFormatOf returns the CoAP Content-Format number for ct, and false
// if ct is ContentTypeAny (which has no wire representation — it means
// "Accept anything", valid only in an Accept option, never Content-Format).
func ContentFormatOf(ct ContentType) (uint32, bool) {
	v, ok := contentFormat[ct]
	return v, ok
}

// ContentTypeFromFormat maps a wire Content-Format number back to our enum.
func ContentTypeFromFormat(format uint32) ContentType {
	if ct, ok := formatToContentType[format]; ok {
		return ct
	}
	return ContentTypeOctetStream
}

// StatusClass is the leading digit of a CoAP response code (spec §3
// "CoapResponse.Status class").
type StatusClass int

const (
	StatusClassSuccess StatusClass = 2
	StatusClassClient  StatusClass = 4
	StatusClassServer  StatusClass = 5
)

// Status is the mapped, coarse result of a request (spec §7). It is
// distinct from Kind: Status describes what the *server* said (2.xx/4.xx/
// 5.xx), Kind describes what went wrong on *our* side (timeout, io error,
// ...). A successful Status always corresponds to Kind == KindOK.
type Status struct {
	Class  StatusClass
	Detail int // the CoAP sub-code, e.g. .04 in 2.04 Changed
}

func (s Status) String() string {
	return fmt.Sprintf("%d.%02d", s.Class, s.Detail)
}

// OK reports whether this status is in the 2.xx success class.
func (s Status) OK() bool {
	return s.Class == StatusClassSuccess
}

// codeToStatus / statusToCode translate between our Status and the raw
// CoAP code byte (class in the high 3 bits, detail in the low 5), per RFC
// 7252 §3.
func codeToStatus(code uint8) Status {
	return Status{Class: StatusClass(code >> 5), Detail: int(code & 0x1f)}
}

func statusToCode(s Status) uint8 {
	return uint8(s.Class)<<5 | uint8(s.Detail&0x1f)
}

// Well-known response statuses used by the blockwise and OTA engines to
// recognize specific server replies without hand-rolling the class/detail
// pair every time (spec §4.7, §4.8).
var (
	StatusCreated    = Status{StatusClassSuccess, 1}
	StatusChanged    = Status{StatusClassSuccess, 4}
	StatusContent    = Status{StatusClassSuccess, 5}
	StatusContinue   = Status{StatusClassSuccess, 31}
	StatusBadRequest = Status{StatusClassClient, 0}
	StatusNotFound   = Status{StatusClassClient, 4}
)
