// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package meta

import (
	"errors"
	"fmt"
	"time"

	"github.com/calmh/xdr"
)

/*

Record Structure:

 0                   1                   2                   3
 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
/                                                               /
\                   Path (length + padded data)                 \
/                                                               /
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                         Size (64 bits)                        |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                    Has Modified (boolean)                     |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|              Modified (64 bits, Unix ns, if present)          |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                     Has Created (boolean)                     |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|              Created (64 bits, Unix ns, if present)           |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                    Has Extension (boolean)                    |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
/                                                               /
\          Extension (length + padded data, if present)         \
/                                                               /
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

struct Record {
	string Path<4096>;
	unsigned hyper Size;
	optional hyper Modified;
	optional hyper Created;
	optional string Extension<255>;
}

*/

const (
	maxPathLen      = 4096
	maxExtensionLen = 255
)

var ErrTrailingData = errors.New("trailing data after record")

func sizeOfString(s string) int {
	return 4 + len(s) + xdr.Padding(len(s))
}

func (r Record) XDRSize() int {
	size := sizeOfString(r.Path) + 8
	size += 4
	if r.Modified != nil {
		size += 8
	}
	size += 4
	if r.Created != nil {
		size += 8
	}
	size += 4
	if r.Extension != nil {
		size += sizeOfString(*r.Extension)
	}
	return size
}

func (r Record) MarshalXDR() ([]byte, error) {
	buf := make([]byte, r.XDRSize())
	m := &xdr.Marshaller{Data: buf}
	return buf, r.MarshalXDRInto(m)
}

func (r Record) MarshalXDRInto(m *xdr.Marshaller) error {
	if n := len(r.Path); n > maxPathLen {
		return xdr.ElementSizeExceeded("Path", n, maxPathLen)
	}
	m.MarshalString(r.Path)
	m.MarshalUint64(r.Size)
	marshalTime(m, r.Modified)
	marshalTime(m, r.Created)
	m.MarshalBool(r.Extension != nil)
	if r.Extension != nil {
		if n := len(*r.Extension); n > maxExtensionLen {
			return xdr.ElementSizeExceeded("Extension", n, maxExtensionLen)
		}
		m.MarshalString(*r.Extension)
	}
	return m.Error
}

func marshalTime(m *xdr.Marshaller, t *time.Time) {
	m.MarshalBool(t != nil)
	if t != nil {
		m.MarshalUint64(uint64(t.UnixNano()))
	}
}

func (r *Record) UnmarshalXDR(bs []byte) error {
	if err := r.UnmarshalXDRFrom(&xdr.Unmarshaller{Data: bs}); err != nil {
		return err
	}
	if size := r.XDRSize(); size != len(bs) {
		return fmt.Errorf("%w (%d bytes)", ErrTrailingData, len(bs)-size)
	}
	return nil
}

func (r *Record) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	r.Path = u.UnmarshalString()
	if n := len(r.Path); n > maxPathLen {
		return xdr.ElementSizeExceeded("Path", n, maxPathLen)
	}
	r.Size = u.UnmarshalUint64()
	r.Modified = unmarshalTime(u)
	r.Created = unmarshalTime(u)
	r.Extension = nil
	if u.UnmarshalBool() {
		ext := u.UnmarshalString()
		if n := len(ext); n > maxExtensionLen {
			return xdr.ElementSizeExceeded("Extension", n, maxExtensionLen)
		}
		r.Extension = &ext
	}
	return u.Error
}

func unmarshalTime(u *xdr.Unmarshaller) *time.Time {
	if !u.UnmarshalBool() {
		return nil
	}
	t := time.Unix(0, int64(u.UnmarshalUint64()))
	return &t
}

// Marshal returns the wire form of the record. Encoding failures are logged
// and produce an empty result.
func (r Record) Marshal() []byte {
	bs, err := r.MarshalXDR()
	if err != nil {
		l.Warnf("Encoding record for %q: %v", r.Path, err)
		metricCodecErrors.WithLabelValues("encode").Inc()
		return nil
	}
	return bs
}

// Unmarshal decodes a record from its wire form.
func Unmarshal(bs []byte) (Record, error) {
	var r Record
	if err := r.UnmarshalXDR(bs); err != nil {
		metricCodecErrors.WithLabelValues("decode").Inc()
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}
