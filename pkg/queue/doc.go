/*
Package queue defines the message consumer's inbound/outbound queue
contract and an in-memory implementation of it.

No AMQP, Kafka, or NATS client is wired into this module, so there is no
third-party client backing a production Queue yet. Queue is a narrow
interface any real broker client could satisfy, and the in-memory
implementation here exists so pkg/consumer and its tests have something
concrete to drive without a live broker. Swapping in a real client
(amqp091-go, kafka-go, nats.go) means adding an adapter that implements
this same interface; it does not touch pkg/consumer or pkg/engine.
*/
package queue
