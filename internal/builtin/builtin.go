// Package builtin bundles the agent scripts seeded on every boot.
package builtin

import (
	"embed"
	"io/fs"
)

//go:embed agents/*.js
var agents embed.FS

// FS returns the bundled agent scripts. Each file name is an agent name and
// each file's content is that agent's action.
func FS() fs.FS {
	sub, err := fs.Sub(agents, "agents")
	if err != nil {
		panic(err)
	}
	return sub
}
