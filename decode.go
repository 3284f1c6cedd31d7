// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package auxrec

import (
	"fmt"
	"os"
)

// DecodeFile opens and decodes the recording at path as the given format.
// Decode errors name the file they came from.
func DecodeFile(path string, kind FormatKind, id string, layout Layout) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening stream: %w", err)
	}
	defer f.Close()

	switch kind {
	case KindContinuous:
		s, err := DecodeLVD(f, id, layout)
		if err != nil {
			return nil, withFile(err, path)
		}
		return s, nil
	case KindEyeFrame, KindVideoFrame:
		s, err := DecodeFrames(f, kind, id, layout)
		if err != nil {
			return nil, withFile(err, path)
		}
		if s.truncation != nil {
			s.truncation.File = path
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown format kind %q", kind)
	}
}
