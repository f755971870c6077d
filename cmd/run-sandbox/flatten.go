// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/muesli/termenv"
	"github.com/zeebo/blake3"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// writeFlattened prints the merged definition as YAML, headed by a
// digest of the YAML so two flattenings can be compared at a glance.
// The output is highlighted unless profile is Ascii.
func writeFlattened(w io.Writer, resolved *tree.Map, profile termenv.Profile) error {
	data, err := tree.EncodeYAML(resolved)
	if err != nil {
		return fmt.Errorf("encoding merged definition: %w", err)
	}
	digest := blake3.Sum256(data)
	text := fmt.Sprintf("# blake3: %x\n%s", digest, data)

	formatter := chromaFormatter(profile)
	if formatter == "" {
		_, err := io.WriteString(w, text)
		return err
	}
	return quick.Highlight(w, text, "yaml", formatter, "monokai")
}

// chromaFormatter maps a terminal colour profile to a chroma
// formatter name. Ascii gets none.
func chromaFormatter(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	}
	return ""
}
