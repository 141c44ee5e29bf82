// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package build

import (
	"strings"
	"testing"
)

func TestAllowedVersions(t *testing.T) {
	testcases := []struct {
		ver     string
		allowed bool
	}{
		{"v0.1.0", true},
		{"v1.2.3+22-gabcdef0", true},
		{"v1.2.3-beta47", true},
		{"v1.2.3-rc.1", true},
		{"v1.2.3-some-weird-but-allowed-tag", true},
		{"v1.2.3+not.allowed.to.do.this", false},
		{"1.2.3", false},
		{"(devel)", false},
	}

	for i, c := range testcases {
		if allowed := AllowedVersionExp.MatchString(c.ver); allowed != c.allowed {
			t.Errorf("%d: incorrect result %v != %v for %q", i, allowed, c.allowed, c.ver)
		}
	}
}

func TestLongVersion(t *testing.T) {
	oldVersion, oldStamp, oldUser, oldHost := Version, Stamp, User, Host
	defer func() {
		Version, Stamp, User, Host = oldVersion, oldStamp, oldUser, oldHost
		setBuildData()
	}()

	Version, Stamp = "v1.2.3", "0"
	setBuildData()
	if !IsRelease {
		t.Error("v1.2.3 should be a release")
	}
	if !strings.HasPrefix(LongVersion, "linkfield v1.2.3 (go") || strings.Contains(LongVersion, "@") {
		t.Errorf("unexpected long version %q", LongVersion)
	}

	Version, Stamp, User, Host = "v1.2.3-rc.1", "1700000000", "jb", "builder"
	setBuildData()
	if IsRelease {
		t.Error("a release candidate is not a release")
	}
	if !strings.HasSuffix(LongVersion, "jb@builder 2023-11-14 22:13:20 UTC") {
		t.Errorf("unexpected long version %q", LongVersion)
	}
}
