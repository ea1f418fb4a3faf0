package attach

import (
	"os/exec"
	"runtime"
)

// Opener hands a resource to the desktop environment.
type Opener interface {
	Open(target string) error
}

// SystemOpener uses xdg-open, open or start depending on the platform.
type SystemOpener struct{}

func (SystemOpener) Open(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
}
