/*
Package events is the node's in-memory pub/sub broker, topic-keyed with
a per-topic monotonic sequence number so a reconnecting subscriber can
ask "what have I missed since seq N" is answerable by the caller (the
broker itself does not buffer history).

Subscribers choose the topics they care about at Subscribe time (e.g.
"job:<id>:stream", "inbox:<id>"); Publish fans an event out to every
subscriber whose topic set contains it. A full subscriber buffer drops
the event for that subscriber rather than blocking the publisher.
*/
package events
