package inspector

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cavaliergopher/rpm"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
)

// ErrHeaderMismatch is wrapped when the RPM header disagrees with primary metadata.
var ErrHeaderMismatch = errors.New("rpm header does not match primary metadata")

// ReadIdentity parses the RPM lead and header and returns the package identity they declare.
func ReadIdentity(data []byte) (metadata.Package, error) {
	pkg, err := rpm.Read(bytes.NewReader(data))
	if err != nil {
		return metadata.Package{}, fmt.Errorf("parse rpm header: %w", err)
	}
	arch := pkg.Architecture()
	// Source packages carry the build arch in the header; repos list them as "src".
	if pkg.SourceRPM() == "" {
		arch = "src"
	}
	return metadata.Package{
		Name:    pkg.Name(),
		Epoch:   pkg.Epoch(),
		Version: pkg.Version(),
		Release: pkg.Release(),
		Arch:    arch,
	}, nil
}

// VerifyHeader checks that the downloaded RPM declares the NEVRA primary metadata listed for it.
func VerifyHeader(data []byte, want metadata.Package) error {
	got, err := ReadIdentity(data)
	if err != nil {
		return err
	}
	return compareIdentity(got, want)
}

func compareIdentity(got, want metadata.Package) error {
	wantArch := want.Arch
	if wantArch == "nosrc" {
		wantArch = "src"
	}
	if got.Name != want.Name || got.Epoch != want.Epoch || got.Version != want.Version ||
		got.Release != want.Release || got.Arch != wantArch {
		return fmt.Errorf("%w: header says %s, primary says %s", ErrHeaderMismatch, got.NEVRA(), want.NEVRA())
	}
	return nil
}
