package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/oatwriter/auditlog"
	"github.com/chazu/oatwriter/buildlog"
	"github.com/chazu/oatwriter/dexfile"
	"github.com/chazu/oatwriter/manifest"
	"github.com/chazu/oatwriter/nativecode"
	"github.com/chazu/oatwriter/oat"
	"github.com/chazu/oatwriter/runtime"
)

// handleBuildCommand processes the `oatwriter build` subcommand.
// Usage:
//
//	oatwriter build              # reads ./oat.toml
//	oatwriter build -C dir       # reads dir/oat.toml
//	oatwriter build -v           # verbose progress on stderr
func handleBuildCommand(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	dir := fs.String("C", ".", "Directory containing oat.toml")
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Parse(args)

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		fmt.Fprintln(os.Stderr, "Error: no oat.toml found")
		os.Exit(1)
	}

	start := time.Now()
	record := buildlog.Record{BuildID: uuid.NewString(), InstructionSet: m.Target.InstructionSet}

	bl, blErr := buildlog.Open(m.BuildLogDBPath())
	if blErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open build log: %v\n", blErr)
	} else {
		defer bl.Close()
	}

	outPath, err := runBuild(m, *verbose, &record)
	record.Duration = time.Since(start)
	record.Success = err == nil
	if err != nil {
		record.Error = err.Error()
	}

	if bl != nil {
		if logErr := bl.Insert(record); logErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot write build log: %v\n", logErr)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Built %s (%d bytes) in %s\n", outPath, record.OutputSize, record.Duration)
	}
}

// alwaysReadyVerifier accepts every class: it stands in for an upstream
// verification pass a real build would run ahead of compilation.
type alwaysReadyVerifier struct{}

func (alwaysReadyVerifier) IsClassRejected(oat.DexFile, int) bool { return false }

// runBuild parses the manifest's DEX inputs, compiles their methods with a
// placeholder native backend, plans and writes the OAT file, and returns its
// output path.
func runBuild(m *manifest.Manifest, verbose bool, record *buildlog.Record) (string, error) {
	isa := parseInstructionSet(m.Target.InstructionSet)

	var dexFiles []oat.DexFile
	compiler := nativecode.NewCompiler(isa, m.BootImage.Enabled)

	for _, path := range m.DexFilePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		dex, err := dexfile.Open(path, data)
		if err != nil {
			return "", fmt.Errorf("parsing %s: %w", path, err)
		}
		if verbose {
			fmt.Printf("loaded %s (%d class defs)\n", path, dex.NumClassDefs())
		}
		compileDexMethods(compiler, dex)
		dexFiles = append(dexFiles, dex)
	}
	record.DexFileCount = len(dexFiles)

	var opts []oat.Option
	opts = append(opts, oat.WithProxyStubs(m.Target.ProxyStubs))

	var journal *auditlog.Journal
	var registry *runtime.Registry
	if m.BootImage.Enabled {
		opts = append(opts, oat.WithImageAnchor(m.BootImage.AnchorChecksum, m.BootImage.AnchorBegin))
		registry = runtime.NewRegistry()
		declareBootImageMethods(registry, dexFiles, compiler)
		journal = auditlog.NewJournal()
		journal.BuildID = uuid.MustParse(record.BuildID)
		opts = append(opts, oat.WithBootImage(auditingBridge{
			inner:    oat.RuntimeBootImageBridge{Runtime: registry},
			registry: registry,
			journal:  journal,
		}))
	}

	outPath := m.OatFilePath()
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer f.Close()

	w, err := oat.Create(compiler, alwaysReadyVerifier{}, dexFiles, m.BootImage.Location, oat.NewFileStream(f), opts...)
	if err != nil {
		return "", fmt.Errorf("building OAT file: %w", err)
	}
	record.Checksum = w.Header().Checksum
	record.OutputSize = int64(w.FinalOffset())

	if journal != nil {
		path, err := journal.WriteFile(m.AuditLogDirPath())
		if err != nil {
			return "", fmt.Errorf("writing audit journal: %w", err)
		}
		if verbose {
			fmt.Printf("wrote boot-image audit journal to %s\n", path)
		}
	}

	return outPath, nil
}

// compileDexMethods walks every class-def in dex and registers a placeholder
// compiled method for each direct and virtual method. Real AOT code
// generation is out of scope for this driver; it exists to exercise the
// writer end-to-end against real DEX inputs.
func compileDexMethods(compiler *nativecode.Compiler, dex oat.DexFile) {
	for classDefIdx := 0; classDefIdx < dex.NumClassDefs(); classDefIdx++ {
		if _, ok := dex.ClassData(classDefIdx); !ok {
			continue
		}
		direct, virtual := dex.Methods(classDefIdx)
		compiler.SetClassStatus(dex.Location(), classDefIdx, oat.StatusVerified)
		for _, ref := range append(append([]oat.MethodRef{}, direct...), virtual...) {
			compiler.RegisterMethod(nativecode.Method{
				DexLocation: dex.Location(),
				MethodIdx:   ref.MethodIdx,
				Code:        placeholderCode(ref.MethodIdx),
				FrameSize:   16,
			})
		}
	}
}

// placeholderCode synthesizes a small, deterministic instruction sequence
// standing in for a compiled method body.
func placeholderCode(methodIdx int) []byte {
	return []byte{0xC0, 0x03, 0x5F, 0xD6, byte(methodIdx)} // ARM64 RET (little-endian) + a tag byte
}

// declareBootImageMethods registers every method in a fresh registry so the
// boot-image bridge can resolve and patch them during planning.
func declareBootImageMethods(reg *runtime.Registry, dexFiles []oat.DexFile, compiler *nativecode.Compiler) {
	for _, dex := range dexFiles {
		for classDefIdx := 0; classDefIdx < dex.NumClassDefs(); classDefIdx++ {
			if _, ok := dex.ClassData(classDefIdx); !ok {
				continue
			}
			direct, virtual := dex.Methods(classDefIdx)
			status, _ := compiler.CompiledClass(dex, classDefIdx)
			ready := status == oat.StatusInitialized
			for _, ref := range append(append([]oat.MethodRef{}, direct...), virtual...) {
				reg.Declare(dex.Location(), ref.MethodIdx, "", false, ready)
			}
		}
	}
}

// auditingBridge wraps a real boot-image bridge, recording every patch
// decision to a journal alongside applying it.
type auditingBridge struct {
	inner    oat.BootImageBridge
	registry *runtime.Registry
	journal  *auditlog.Journal
}

func (b auditingBridge) Patch(dex oat.DexFile, classDefIdx, methodIdx int, ref oat.MethodRef, mo oat.OatMethodOffsets) {
	b.inner.Patch(dex, classDefIdx, methodIdx, ref, mo)
	patched := false
	if m, ok := b.registry.Lookup(dex.Location(), methodIdx); ok {
		patched = !ref.IsStatic() || m.IsConstructor() || m.IsDeclaringClassInitialized()
	}
	b.journal.Record(dex, classDefIdx, methodIdx, mo, patched)
}

func parseInstructionSet(s string) oat.InstructionSet {
	switch s {
	case "arm":
		return oat.ISAArm
	case "arm64":
		return oat.ISAArm64
	case "x86":
		return oat.ISAX86
	case "x86_64":
		return oat.ISAX86_64
	case "mips":
		return oat.ISAMips
	default:
		return oat.ISAUnknown
	}
}
