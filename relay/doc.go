//Package main
/*
The `relay` package contains the relay hub and the client of the Jupiter notifier. A source device publishes its
notifications to the hub, and the hub forwards them to every other connected subscriber which shows them in an overlay.
When the user dismisses the overlay on one device, the dismiss is forwarded the same way and the overlay disappears on
every device.

The transport layer is the WebSocket protocol. Every frame is a JSON text message with a "type" field, see the
messages package. The client keeps the connection alive with application level pings and reconnects with an
exponential backoff when the connection is lost.
*/
package main
