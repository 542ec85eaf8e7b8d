package browser

import (
	"log/slog"

	"github.com/sisstools/fsefetch/models"
)

// Resolve builds the ConnectionTarget for one session start.
//
// The default-browser registration is always consulted, independent of the
// configured preference: crash recovery needs the installed browser's
// process name even when the operator picked a different channel. When the
// preference names a known channel and the registration produced nothing,
// the channel is looked up in the per-application registration instead.
//
// Absence of an executable is a valid result, not an error; the session
// controller decides whether the bundled engine can stand in.
func Resolve(reg Registry, preferredChannel string, port int) models.ConnectionTarget {
	target := models.ConnectionTarget{Port: port}

	exe, proc, appID := reg.DefaultBrowser()
	target.ExecutablePath = exe
	target.ProcessName = proc
	target.AppID = appID

	ch, known := LookupChannel(preferredChannel)
	if known && target.ExecutablePath == "" {
		if path := reg.ChannelPath(ch); path != "" {
			target.ExecutablePath = path
			target.ProcessName = ch.Process
			target.AppID = ch.Name
		}
	}
	if known && target.ProcessName == "" {
		// Even without an executable the process name lets the attach
		// protocol recognise a running instance.
		target.ProcessName = ch.Process
	}

	slog.Debug("connection target resolved",
		"exe", target.ExecutablePath,
		"process", target.ProcessName,
		"appID", target.AppID,
		"port", target.Port,
	)
	return target
}
