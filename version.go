// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gudasum

import "runtime/debug"

const modulePath = "github.com/LynnColeArt/gudasum"

// Version returns the gudasum module version recorded in the running
// binary, for session logs. It is empty when build info is unavailable.
func Version() string {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return moduleVersion(b)
}

func moduleVersion(b *debug.BuildInfo) string {
	if b.Main.Path == modulePath {
		return b.Main.Version
	}
	for _, m := range b.Deps {
		if m.Path == modulePath {
			return m.Version
		}
	}
	return ""
}
