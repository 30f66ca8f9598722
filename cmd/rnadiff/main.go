// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/clinseq/rnadiff"
)

func main() {
	rnadiff.Main()
}
