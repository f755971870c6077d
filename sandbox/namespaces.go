// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"strings"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// namespaceKinds lists every namespace a sandbox can share with the
// host, with the flag that unshares it. User and cgroup use the -try
// forms so that kernels without them still run the sandbox.
var namespaceKinds = []struct {
	kind string
	flag string
}{
	{"user", "--unshare-user-try"},
	{"cgroup", "--unshare-cgroup-try"},
	{"ipc", "--unshare-ipc"},
	{"pid", "--unshare-pid"},
	{"network", "--unshare-net"},
	{"hostname", "--unshare-uts"},
}

// namespaceAliases accepts the kernel's names for two kinds.
var namespaceAliases = map[string]string{
	"net": "network",
	"uts": "hostname",
}

type namespaceHandler struct {
	args []string
}

// newNamespaceHandler reads the allow-list of namespaces to share.
// Entries are written "share-network" or just "network".
func newNamespaceHandler(_ *RunInfo, value any) (Handler, error) {
	const category = "namespaces"
	var entries []string
	if value != nil {
		var ok bool
		entries, ok = tree.StringList(value)
		if !ok || tree.KindOf(value) != tree.KindSequence {
			return nil, structureError([]string{keyPermissions, category}, "expected a list of namespaces to share, got %s", tree.KindOf(value))
		}
	}

	shared := make(map[string]bool, len(entries))
	for _, entry := range entries {
		kind := strings.TrimPrefix(entry, "share-")
		if alias, ok := namespaceAliases[kind]; ok {
			kind = alias
		}
		if !isNamespaceKind(kind) {
			return nil, &UnknownKeyError{Category: category, Key: entry}
		}
		shared[kind] = true
	}

	handler := &namespaceHandler{}
	for _, namespace := range namespaceKinds {
		if !shared[namespace.kind] {
			handler.args = append(handler.args, namespace.flag)
		}
	}
	return handler, nil
}

func isNamespaceKind(kind string) bool {
	for _, namespace := range namespaceKinds {
		if namespace.kind == kind {
			return true
		}
	}
	return false
}

func (h *namespaceHandler) Args() []string { return h.args }

// namespaceDefaultArgs unshares everything when a definition has no
// namespaces category at all.
func namespaceDefaultArgs() []string {
	args := make([]string, 0, len(namespaceKinds))
	for _, namespace := range namespaceKinds {
		args = append(args, namespace.flag)
	}
	return args
}
