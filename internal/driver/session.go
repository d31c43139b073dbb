package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/adamancini/keel/internal/appcast"
	"github.com/adamancini/keel/internal/download"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/verify"
)

// run is the session goroutine. Every path ends in exactly one finish.
func (d *Driver) run(ctx context.Context, location string) {
	defer d.cancel()

	var artifact *verify.Artifact
	reason, err := d.session(ctx, location, &artifact)
	if reason != None && ctx.Err() != nil && d.State() != StateInstalling {
		// The caller's context ended the session.
		reason, err = UserCancelled, ctx.Err()
	}

	// The payload must not outlive the session.
	artifact.Wipe()

	d.mu.Lock()
	result := d.finishLocked(reason, err)
	d.mu.Unlock()

	d.deliver(result)
}

func (d *Driver) session(ctx context.Context, location string, artifact **verify.Artifact) (AbortReason, error) {
	h := d.host

	if err := h.SetPreferenceValue(host.KeyLastCheckTime, d.clock.Now().UTC()); err != nil {
		d.log.Warn("failed to record check time", "error", err)
	}

	item, found, err := d.check(ctx, location, h)
	if err != nil {
		return CheckFailed, err
	}
	if !found {
		if err := d.advance(eventNone); err != nil {
			return NoUpdateFound, err
		}
		return NoUpdateFound, nil
	}

	d.mu.Lock()
	d.item = item
	d.mu.Unlock()

	if err := d.advance(eventFound); err != nil {
		return CheckFailed, err
	}
	d.log.Info("update available", "version", item.Version, "current", h.Version())

	if h.ReadOnlyVolume() {
		return ReadOnlyVolume, fmt.Errorf("cannot update %s: installation volume is read-only", h.Path())
	}

	if d.ShouldShowUI() {
		choice, err := d.ShowAlert(ctx, Alert{
			AppName:        h.Name(),
			CurrentVersion: h.DisplayVersion(),
			NewVersion:     item.Label(),
			ReleaseNotes:   item.ReleaseNotes,
			Item:           item,
		})
		if err != nil {
			return UserCancelled, err
		}
		switch choice {
		case Install:
		case Skip:
			if err := h.SetPreferenceValue(host.KeySkippedVersion, item.Version); err != nil {
				d.log.Warn("failed to record skipped version", "error", err)
			}
			return UpdateSkipped, nil
		default:
			return UserDeclined, nil
		}
	}

	if err := d.advance(eventDownload); err != nil {
		return DownloadFailed, err
	}
	data, err := d.fetch(ctx, item.URL)
	if err != nil {
		return DownloadFailed, err
	}
	d.metrics.DownloadBytes(len(data))

	*artifact = &verify.Artifact{
		URL:       item.URL,
		Data:      data,
		Signature: item.Signature,
		Length:    item.Length,
		SHA256:    item.SHA256,
	}

	if err := d.advance(eventVerify); err != nil {
		return VerificationFailed, err
	}
	// A nil key is fine here: Verify refuses to trust without one.
	key, _ := h.PublicKey()
	verdict, verr := verify.Verify(*artifact, key)
	if verdict != verify.Trusted {
		if err := d.advance(eventReject); err != nil {
			return VerificationFailed, err
		}
		return VerificationFailed, verr
	}
	if err := d.advance(eventTrust); err != nil {
		return VerificationFailed, err
	}

	// Entering Installing is the point of no return; the guard rejects any
	// verdict other than Trusted.
	if err := d.advance(eventInstall, verdict); err != nil {
		return VerificationFailed, err
	}

	d.log.Info("installing update", "version", item.Version)
	// Installing is not interruptible, so the install ignores cancellation.
	if err := d.install.Install(context.WithoutCancel(ctx), h, item, *artifact); err != nil {
		return InstallationFailed, err
	}
	return None, nil
}

// check fetches and parses the feed and selects the candidate.
func (d *Driver) check(ctx context.Context, location string, h *host.Host) (appcast.Item, bool, error) {
	data, err := d.fetch(ctx, location)
	if err != nil {
		return appcast.Item{}, false, err
	}

	feed, err := appcast.Parse(data, location)
	if err != nil {
		return appcast.Item{}, false, fmt.Errorf("invalid feed at %s: %w", location, err)
	}

	var skipped string
	if v, ok := h.PreferenceValue(host.KeySkippedVersion); ok {
		skipped = cast.ToString(v)
	}

	return feed.Best(h.Version(), d.platform, skipped)
}

// fetch drains one download to its terminal event.
func (d *Driver) fetch(ctx context.Context, url string) ([]byte, error) {
	events, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var (
		data      []byte
		completed bool
	)
	for ev := range events {
		switch ev := ev.(type) {
		case download.Progress:
			d.log.Debug("download progress", "url", url, "received", ev.Received, "total", ev.Total)
		case download.Completed:
			data, completed = ev.Data, true
		case download.Failed:
			err = ev.Err
		}
	}
	if err == nil && !completed {
		err = errors.New("download ended without data")
	}
	return data, err
}
