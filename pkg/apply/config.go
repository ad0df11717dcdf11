package apply

import (
	"context"

	v1 "github.com/djcass44/upkeep/pkg/api/v1"
	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/djcass44/upkeep/pkg/downloader"
	"github.com/djcass44/upkeep/pkg/hooks"
	"github.com/djcass44/upkeep/pkg/installroot"
)

// OptionsFromConfig converts a configuration document into
// orchestrator options.
func OptionsFromConfig(spec v1.ConfigSpec) (Options, error) {
	compression, err := deltacodec.ParseCompression(spec.PatchCompression)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Source = spec.Source
	opts.Resolver.AllowPrerelease = spec.AllowPrerelease
	opts.Delta.Codec = deltacodec.Options{
		MaxPatchRatio: spec.MaxPatchRatio,
		Compression:   compression,
	}
	if spec.LockTimeout.Duration > 0 {
		opts.LockTimeout = spec.LockTimeout.Duration
	}
	if spec.Retries != nil {
		opts.Retries = *spec.Retries
	}
	if spec.KeepVersions > 0 {
		opts.KeepPackages = spec.KeepVersions
	}
	return opts, nil
}

// FromConfig wires an Orchestrator with the HTTP downloader and
// the process hook runner. Overrides are applied to the options
// in order.
func FromConfig(ctx context.Context, spec v1.ConfigSpec, overrides ...func(opts *Options)) (*Orchestrator, error) {
	opts, err := OptionsFromConfig(spec)
	if err != nil {
		return nil, err
	}
	for _, fn := range overrides {
		fn(&opts)
	}
	// the orchestrator owns the retry loop, so the downloader
	// makes a single attempt per call
	dl := downloader.NewDownloader(ctx, downloader.Options{
		Retries: 0,
		Delay:   opts.RetryDelay,
	})
	root := installroot.New(spec.Root, spec.AppID)
	return New(root, dl, hooks.NewExecRunner(spec.HookTimeout.Duration), opts), nil
}
