package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/ramdump/internal/cfg"
	"github.com/e2b-dev/infra/packages/ramdump/internal/image"
	"github.com/e2b-dev/infra/packages/ramdump/internal/mm"
	"github.com/e2b-dev/infra/packages/ramdump/internal/oracle"
	"github.com/e2b-dev/infra/packages/ramdump/internal/profile"
	"github.com/e2b-dev/infra/packages/ramdump/internal/source"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/logger"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/telemetry"
)

const instrumentationName = "github.com/e2b-dev/infra/packages/ramdump/cmd/ramdump"

// session is one opened capture and the resolver over it.
type session struct {
	resolver *mm.Resolver
	workers  int

	out    io.Writer
	errOut io.Writer

	closers []io.Closer
}

// sessionOpener is passed to every command so a session is only opened once
// the command line is known to be valid.
type sessionOpener func(ctx context.Context) (*session, error)

func (s *session) Close() error {
	if s.resolver != nil {
		s.resolver.Close()
	}

	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}

	return errors.Join(errs...)
}

func openSession(ctx context.Context, conf cfg.Config, out, errOut io.Writer) (*session, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "open-session")
	defer span.End()

	if conf.Image == "" {
		return nil, errors.New("no capture given, set -image or RAMDUMP_IMAGE")
	}

	if conf.Profile == "" {
		return nil, errors.New("no kernel profile given, set -profile or RAMDUMP_PROFILE")
	}

	prof, err := profile.Load(conf.Profile)
	if err != nil {
		return nil, err
	}

	path, err := source.Fetch(ctx, conf.Image, conf.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capture: %w", err)
	}

	mapping, err := image.NewMapping(prof.ImageRegions())
	if err != nil {
		return nil, fmt.Errorf("invalid regions in profile: %w", err)
	}

	img, err := image.Open(path, mapping, conf.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}

	layout := prof.MMLayout()
	if prof.Layout.MaxListSteps == nil && conf.MaxListSteps > 0 {
		layout.MaxListSteps = conf.MaxListSteps
	}

	resolver, err := mm.NewResolver(oracle.New(prof, img), prof.Target(),
		mm.WithLayout(layout),
		mm.WithSectionCacheTTL(conf.SectionCacheTTL),
	)
	if err != nil {
		img.Close()

		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	telemetry.ReportEvent(ctx, "capture opened",
		attribute.String("image.path", img.Path()),
		attribute.Int64("image.size", img.Size()),
		attribute.Int64("regions.size", img.Mapping().Size()),
		attribute.String("profile", prof.Name),
		attribute.String("model", resolver.Model().String()),
	)

	zap.L().Info("capture opened",
		logger.WithImage(img.Path()),
		zap.String("profile", prof.Name),
		zap.String("image.size", humanize.IBytes(uint64(img.Size()))),
		zap.String("regions.size", humanize.IBytes(uint64(img.Mapping().Size()))),
		zap.Stringer("model", resolver.Model()),
	)

	return &session{
		resolver: resolver,
		workers:  conf.Workers,
		out:      out,
		errOut:   errOut,
		closers:  []io.Closer{img},
	}, nil
}
