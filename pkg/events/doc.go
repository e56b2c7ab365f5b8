// Package events implements a lightweight, topic-agnostic pub/sub bus:
// Publish into a 100-slot buffered channel, fanned out to every
// Subscriber's own buffered channel. Publish blocks only while that
// channel is full, until the broker's loop drains it or Stop is called.
// A slow or absent subscriber never blocks the broker — events are
// dropped at the subscriber's buffer, not queued without bound.
//
// Sentinel is the only publisher. Subscribers consume types.Event values
// tagged with the Type* constants declared alongside Broker; no CLI
// command subscribes.
package events
