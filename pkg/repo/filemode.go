package repo

import (
	"os"

	"github.com/odvcencio/metagraft/pkg/object"
)

func modeFromFileInfo(info os.FileInfo) string {
	if info.Mode()&0o111 != 0 {
		return object.TreeModeExecutable
	}
	return object.TreeModeFile
}

func filePermFromMode(mode string) os.FileMode {
	if mode == object.TreeModeExecutable {
		return 0o755
	}
	return 0o644
}

// modeKind groups modes whose change is a type change rather than a
// content modification.
func modeKind(mode string) string {
	switch mode {
	case object.TreeModeSubmodule:
		return "submodule"
	case object.TreeModeDir:
		return "dir"
	default:
		return "file"
	}
}
