// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "errors"

// errAlreadyExists backs the uniqueness constraints replay defense relies on:
// replay defense: subject identifiers, DPoP jtis, and client-assertion jtis
// each reject a second insert under the same key.
var errAlreadyExists = errors.New("store: record already exists")
