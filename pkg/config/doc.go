/*
Package config loads and validates the hub configuration.

Configuration is YAML layered over Default(); Load returns an error for any
configuration the process must refuse to start with (missing Redis address,
missing JWT secret, non-positive TTLs or limiter windows). All durations in
the file are expressed in the units their names carry (seconds or
milliseconds) to match the wire-level timestamps the hub stores.
*/
package config
