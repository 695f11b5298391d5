package storage

import (
	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/sessionlog"
)

// EncodeEntry canonicalizes a verified session log entry for storage.
func EncodeEntry(entry sessionlog.Entry) (SessionEntry, error) {
	tx, err := canon.Encode(entry.Tx)
	if err != nil {
		return SessionEntry{}, err
	}
	return SessionEntry{Tx: tx, AfterHash: entry.AfterHash, Signature: entry.Signature}, nil
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(se SessionEntry) (sessionlog.Entry, error) {
	var tx sessionlog.Transaction
	if err := canon.Decode(se.Tx, &tx); err != nil {
		return sessionlog.Entry{}, err
	}
	return sessionlog.Entry{Tx: tx, AfterHash: se.AfterHash, Signature: se.Signature}, nil
}
