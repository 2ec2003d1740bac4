// Package storage persists chamber's local state: the identity record,
// contacts, encrypted message transcripts, attachments and the outbound
// queue.
//
// The Store maps typed records onto any kv.DB backend (memory, leveldb or
// redis) as JSON values in five collections:
//
//	identity     "user" -> Identity
//	contacts     public ID -> Contact, indexed by addedAt, lastMessageAt and activity
//	messages     uuid -> Message, indexed by contact as "<contactID>/<timestamp>"
//	attachments  uuid -> Attachment
//	outbound     uuid -> QueuedOutbound, indexed by target as "<peerID>/<enqueuedAt>/<seq>"
//
// Timestamps inside index values are zero-padded nanoseconds so that byte
// order equals chronological order on every backend.
//
// Plaintext never reaches the Store: text messages carry base64 ciphertext,
// attachments raw ciphertext, and queued entries already encoded frames.
package storage
