// Package mqtt publishes Home Assistant MQTT discovery messages and
// periodic sensor state updates so a Skald instance appears as a native
// HA device with availability tracking. It also subscribes to a context
// topic, letting automations push out-of-band notes into the agent
// session.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity, a birth message ("online") to the availability
// topic, and re-subscribes to the context topic. A will message
// ensures the availability topic transitions to "offline" on
// unexpected disconnects.
package mqtt
