package oat

// Create plans and immediately writes an OAT file in one step: the
// convenience entry point the original writer exposed alongside its
// constructor-then-Write pattern.
func Create(compiler Compiler, verifier Verifier, dexFiles []DexFile, imageLocation string, stream OutputStream, opts ...Option) (*Writer, error) {
	w, err := NewWriter(compiler, verifier, dexFiles, imageLocation, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Write(stream); err != nil {
		return w, err
	}
	return w, nil
}
