// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "errors"

// ErrStale is returned for an operation completed after its timeout expired or its Provider was reset.
var ErrStale = errors.New("operation completed after being cancelled")
