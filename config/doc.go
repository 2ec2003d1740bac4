// Package config loads settings for the chamber client and signaling
// server.
//
// Values are layered: built-in defaults, then a TOML file, then .env
// files, then CHAMBER_* environment variables. A minimal file:
//
//	data_dir = "/var/lib/chamber"
//
//	[log]
//	level = "debug"
//	format = "json"
//
//	[store]
//	backend = "redis"
//	redis_url = "redis://localhost:6379/0"
//
//	[network]
//	signaling_url = "https://signal.example.org"
//	ice_servers = ["stun:stun.l.google.com:19302", "turn:turn.example.org:3478"]
//	connect_timeout = "10s"
package config
