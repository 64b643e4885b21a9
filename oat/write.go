package oat

import "io"

// Write runs the writing pass: it replays the plan computed by NewWriter,
// performing no offset arithmetic of its own. Every seek is checked against
// the planned offset; a mismatch can only indicate a writer bug and is
// returned as a *WriteError wrapping ErrSeekMismatch.
func (w *Writer) Write(stream OutputStream) error {
	if err := w.requireBuilt(); err != nil {
		return err
	}
	w.state = stateWriting

	if err := w.write(stream); err != nil {
		w.state = stateFailed
		return err
	}
	w.state = stateDone
	return nil
}

func (w *Writer) write(stream OutputStream) error {
	if err := stream.WriteFully(w.header.encode(w.header.Checksum)); err != nil {
		return &WriteError{StreamLocation: stream.Location(), Err: err}
	}
	if err := stream.WriteFully([]byte(w.imageLocation)); err != nil {
		return &WriteError{StreamLocation: stream.Location(), Err: err}
	}

	for i, odf := range w.oatDexFiles {
		if err := stream.WriteFully(odf.encode()); err != nil {
			return &WriteError{StreamLocation: stream.Location(), Dex: w.dexFiles[i].Location(), Err: err}
		}
	}

	for i, odf := range w.oatDexFiles {
		dex := w.dexFiles[i]
		if err := w.seekTo(stream, int64(odf.DexFileOffset)); err != nil {
			return &WriteError{StreamLocation: stream.Location(), Dex: dex.Location(), Err: err}
		}
		if err := stream.WriteFully(dex.Bytes()); err != nil {
			return &WriteError{StreamLocation: stream.Location(), Dex: dex.Location(), Err: err}
		}
	}

	for _, cp := range w.classPlans {
		dexLoc := w.dexFiles[cp.dexIdx].Location()
		if err := stream.WriteFully(cp.oatClass.encode(w.proxyStubsEnabled)); err != nil {
			return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, Err: err}
		}
	}

	if err := w.seekTo(stream, int64(w.header.ExecutableOffset)); err != nil {
		return &WriteError{StreamLocation: stream.Location(), Err: err}
	}

	for _, cp := range w.classPlans {
		dexLoc := w.dexFiles[cp.dexIdx].Location()
		for _, mp := range cp.methods {
			if err := w.seekTo(stream, int64(mp.alignedOffset)); err != nil {
				return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
			}
			for _, blob := range []*blobPlan{&mp.code, &mp.mapping, &mp.vmap, &mp.gcmap} {
				if err := writeBlob(stream, blob); err != nil {
					return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
				}
			}

			// The invoke stub and proxy stub each realign past whatever the
			// method's own code/tables left behind, so the stream position
			// inherited from the loop above cannot be trusted here: seek to
			// the planned offset explicitly before touching either one.
			if mp.invokeStub.present {
				if err := w.seekTo(stream, int64(mp.invokeStubOffset)); err != nil {
					return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
				}
				if err := writeBlob(stream, &mp.invokeStub); err != nil {
					return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
				}
			}
			if mp.proxyStub.present {
				if err := w.seekTo(stream, int64(mp.proxyStubOffset)); err != nil {
					return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
				}
				if err := writeBlob(stream, &mp.proxyStub); err != nil {
					return &WriteError{StreamLocation: stream.Location(), Dex: dexLoc, ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
				}
			}
		}
	}

	// A plan can end in a gap (executable padding, or alignment before a fully
	// deduplicated method) that no write reaches past: zero-fill it so the
	// stream is exactly FinalOffset bytes long.
	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return &WriteError{StreamLocation: stream.Location(), Err: err}
	}
	if end < int64(w.finalOffset) {
		if err := stream.WriteFully(make([]byte, int64(w.finalOffset)-end)); err != nil {
			return &WriteError{StreamLocation: stream.Location(), Err: err}
		}
	}
	return nil
}

func writeBlob(stream OutputStream, blob *blobPlan) error {
	if !blob.present || !blob.isNew {
		return nil
	}
	if blob.sizePrefixed {
		var sizeBuf [4]byte
		n := uint32(len(blob.payload))
		sizeBuf[0] = byte(n)
		sizeBuf[1] = byte(n >> 8)
		sizeBuf[2] = byte(n >> 16)
		sizeBuf[3] = byte(n >> 24)
		if err := stream.WriteFully(sizeBuf[:]); err != nil {
			return err
		}
	}
	return stream.WriteFully(blob.payload)
}

// seekTo seeks to an absolute offset and fails with ErrSeekMismatch if the
// stream reports landing anywhere else.
func (w *Writer) seekTo(stream OutputStream, offset int64) error {
	pos, err := stream.Seek(offset, io.SeekStart)
	if err != nil {
		return err
	}
	if pos != offset {
		return ErrSeekMismatch
	}
	return nil
}
