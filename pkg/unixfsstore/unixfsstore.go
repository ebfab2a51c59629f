// Package unixfsstore holds the records the local store indexes about its blocks
package unixfsstore

import (
	"github.com/ipfs/go-cid"
)

// RootCID is a DAG root the store was given, either by a publish or by a CAR import.
// Metadata records where it came from.
type RootCID struct {
	CID      cid.Cid
	Kind     int64
	Metadata []byte
}

// Pin is a recursive pin on CID
type Pin struct {
	CID cid.Cid
	// PinnedAt is a unix timestamp in seconds
	PinnedAt int64
}
