//go:build integration
// +build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"inviqa/event-outbox-relay/outbox"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWrittenEventsArePublishedToTheirQueues(t *testing.T) {
	Convey(fmt.Sprintf("Given I have a %s outbox and a RabbitMQ broker", cfg.DBDriver), t, func() {
		events := []*outbox.Event{newEvent(outbox.Accident), newEvent(outbox.Service), newEvent(outbox.Transfer)}

		Convey("When the events are written to the outbox", func() {
			for _, e := range events {
				inserted, err := writer.Write(context.Background(), e)
				So(err, ShouldBeNil)
				So(inserted, ShouldBeTrue)
			}

			Convey("Then each event should be published to the queue named after its type", func() {
				for _, e := range events {
					msg, ok := waitForMessage(string(e.Type), e.EventId)
					So(ok, ShouldBeTrue)
					So(msg.ContentType, ShouldEqual, "application/json")
					So(msg.Headers["x-event-type"], ShouldEqual, string(e.Type))
					So(msg.Headers["x-event-source"], ShouldEqual, string(e.Source))

					body := outbox.BrokerMessage{}
					So(json.Unmarshal(msg.Body, &body), ShouldBeNil)
					So(body.EventId, ShouldEqual, e.EventId)
					So(body.EntityId, ShouldEqual, e.EntityId)
					So(string(body.Payload), ShouldEqual, string(e.Payload))
				}

				Convey("And every delivery should have been marked as sent", func() {
					for _, e := range events {
						d := waitForStatus(e.EventId, outbox.StatusSent)
						So(d.Status, ShouldEqual, outbox.StatusSent)
						So(d.Attempts, ShouldEqual, 0)
						So(d.LockedBy.Valid, ShouldBeFalse)
					}
				})
			})
		})
	})
}

func TestWritingTheSameEventTwiceIsIdempotent(t *testing.T) {
	Convey(fmt.Sprintf("Given an event already written to the %s outbox", cfg.DBDriver), t, func() {
		e := newEvent(outbox.Service)
		inserted, err := writer.Write(context.Background(), e)
		So(err, ShouldBeNil)
		So(inserted, ShouldBeTrue)

		Convey("When the same event is written again", func() {
			inserted, err := writer.Write(context.Background(), e)

			Convey("Then it should be reported as a duplicate without error", func() {
				So(err, ShouldBeNil)
				So(inserted, ShouldBeFalse)

				Convey("And only one record should exist in each table", func() {
					for _, table := range []string{"events", "outbox_events", "outbox_delivery"} {
						So(countRows(table, e.EventId), ShouldEqual, 1)
					}
				})
			})
		})
	})
}

func TestRetryEligibleDeliveriesArePublished(t *testing.T) {
	Convey(fmt.Sprintf("Given a %s delivery waiting for a retry that is now due", cfg.DBDriver), t, func() {
		e := newEvent(outbox.Accident)
		insertEventWithDelivery(e, outbox.StatusRetry, 3, sql.NullTime{})

		Convey("When the relay polls the outbox", func() {
			msg, ok := waitForMessage(string(e.Type), e.EventId)

			Convey("Then the event should be published", func() {
				So(ok, ShouldBeTrue)
				So(msg.MessageId, ShouldEqual, e.EventId.String())

				Convey("And the delivery should be sent keeping its attempts", func() {
					d := waitForStatus(e.EventId, outbox.StatusSent)
					So(d.Status, ShouldEqual, outbox.StatusSent)
					So(d.Attempts, ShouldEqual, 3)
				})
			})
		})
	})
}
