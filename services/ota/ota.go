// Package ota wires the firmware-update state machine (package ota at the
// module root) to a live scheduler: it posts status reports to the
// component-status resource and decodes manifest notifications pushed to
// the desired-manifest resource. Grounded on the teacher's coap_observe.go
// registration shape, reused throughout services/.
package ota

import (
	"context"

	coreota "github.com/golioth/golioth-firmware-sdk-go/ota"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// CloudReporter implements coreota.Reporter by POSTing to the
// component-status resource (spec §4.8 "Reporting").
type CloudReporter struct {
	sched *scheduler.Scheduler
}

// NewCloudReporter binds a CloudReporter to sched.
func NewCloudReporter(sched *scheduler.Scheduler) *CloudReporter {
	return &CloudReporter{sched: sched}
}

// reportDoc is the wire document for one status report.
type reportDoc struct {
	State          string `cbor:"state"`
	Reason         string `cbor:"reason"`
	CurrentVersion string `cbor:"version,omitempty"`
	TargetVersion  string `cbor:"target,omitempty"`
}

// Report implements coreota.Reporter.
func (r *CloudReporter) Report(ctx context.Context, report coreota.StatusReport) error {
	doc := reportDoc{State: report.State.String(), Reason: report.Reason.String()}
	if report.IncludeCurrent {
		doc.CurrentVersion = report.CurrentVersion
	}
	if report.IncludeTarget {
		doc.TargetVersion = report.TargetVersion
	}
	body, err := wire.Marshal(doc)
	if err != nil {
		return coap.NewError(coap.KindInvalidFormat, "ota: encoding status report", err)
	}
	resp, err := r.sched.Do(ctx, &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.ComponentStatusPath(report.Package),
		ContentType: coap.ContentTypeCBOR,
		Payload:     body,
	})
	if err != nil {
		return err
	}
	if !resp.Status.OK() {
		return coap.NewError(coap.KindFail, "ota: status report rejected: "+resp.Status.String(), nil)
	}
	return nil
}

// manifestDoc is the wire shape of one notified manifest.
type manifestDoc struct {
	Seq        uint32 `cbor:"seq"`
	Components []struct {
		Package string `cbor:"package"`
		Version string `cbor:"version"`
		Size    uint32 `cbor:"size"`
		Hash    []byte `cbor:"hash"`
		URI     string `cbor:"uri"`
	} `cbor:"components"`
}

// DecodeManifest turns a manifest notification's raw CBOR payload into a
// coreota.Manifest (spec §4.8 step 2: "decodes the CBOR manifest").
func DecodeManifest(payload []byte) (*coreota.Manifest, error) {
	var doc manifestDoc
	if err := wire.Unmarshal(payload, &doc); err != nil {
		return nil, coap.NewError(coap.KindInvalidFormat, "ota: decoding manifest", err)
	}
	m := &coreota.Manifest{SequenceNumber: doc.Seq}
	for _, c := range doc.Components {
		comp := coreota.Component{Package: c.Package, Version: c.Version, Size: c.Size, URI: c.URI}
		copy(comp.Hash[:], c.Hash)
		m.Components = append(m.Components, comp)
	}
	return m, nil
}

// Subscribe registers for manifest push notifications, decoding each one
// and handing it to fsm.HandleManifest (spec §4.8 step 2). A cheap
// sequence-number peek (wire.PeekSequence, over a CBOR->JSON round trip)
// skips the typed decode entirely for a notification whose sequence number
// equals the previous one (an older number is decoded like a new one),
// the same shortcut the teacher's coap_observe_sync.go takes when it
// scrapes a sync token instead of unmarshaling the whole /sync body.
func Subscribe(ctx context.Context, sched *scheduler.Scheduler, fsm *coreota.FSM) ([]byte, error) {
	lastSeq := int64(-1)
	return sched.Subscribe(ctx, coap.ManifestPath, coap.ContentTypeCBOR, func(resp *coap.Response) {
		if asJSON, err := wire.CBORToJSON(resp.Payload); err == nil {
			if seq, ok := wire.PeekSequence(asJSON); ok {
				if seq == lastSeq {
					return
				}
				lastSeq = seq
			}
		}
		m, err := DecodeManifest(resp.Payload)
		if err != nil {
			return
		}
		fsm.HandleManifest(ctx, m)
	})
}
