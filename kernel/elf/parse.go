package elf

import "nyx/kernel"

var (
	errTooSmall      = &kernel.Error{Module: "elf", Message: "image too small for an ELF64 header"}
	errBadMagic      = &kernel.Error{Module: "elf", Message: "bad ELF magic"}
	errBadClass      = &kernel.Error{Module: "elf", Message: "not a 64-bit ELF image"}
	errBadEndian     = &kernel.Error{Module: "elf", Message: "not a little-endian ELF image"}
	errNotExec       = &kernel.Error{Module: "elf", Message: "not an ET_EXEC image"}
	errBadMachine    = &kernel.Error{Module: "elf", Message: "not an x86_64 image"}
	errTruncatedPhdr = &kernel.Error{Module: "elf", Message: "program header table runs past the end of the image"}
)

// Image is a parsed, validated ELF64 executable backed by the raw file
// bytes it was loaded from.
type Image struct {
	data []byte
	ehdr *Ehdr
}

// Parse validates data as a statically linked ET_EXEC/EM_X86_64 ELF64
// image and returns a handle to it. data is retained, not copied, so the
// caller must not mutate it afterward.
func Parse(data []byte) (*Image, *kernel.Error) {
	if len(data) < ehdrSize {
		return nil, errTooSmall
	}

	ehdr := ehdrAt(data)
	if err := validateHeader(ehdr); err != nil {
		return nil, err
	}

	phdrTableEnd := uintptr(ehdr.Phoff) + uintptr(ehdr.Phnum)*uintptr(ehdr.Phentsize)
	if phdrTableEnd > uintptr(len(data)) {
		return nil, errTruncatedPhdr
	}

	return &Image{data: data, ehdr: ehdr}, nil
}

// IsValid reports whether data passes Parse's validation, without
// returning the parsed image.
func IsValid(data []byte) bool {
	_, err := Parse(data)
	return err == nil
}

func validateHeader(ehdr *Ehdr) *kernel.Error {
	if ehdr.Ident[eiMag0] != magic0 || ehdr.Ident[eiMag1] != magic1 ||
		ehdr.Ident[eiMag2] != magic2 || ehdr.Ident[eiMag3] != magic3 {
		return errBadMagic
	}
	if ehdr.Ident[eiClass] != classELF64 {
		return errBadClass
	}
	if ehdr.Ident[eiData] != dataLSB {
		return errBadEndian
	}
	if ehdr.Type != typeExec {
		return errNotExec
	}
	if ehdr.Machine != machineX8664 {
		return errBadMachine
	}
	return nil
}

// Entry returns the image's entry point virtual address.
func (img *Image) Entry() uintptr {
	return uintptr(img.ehdr.Entry)
}

// Segments returns every PT_LOAD program header, in file order.
func (img *Image) Segments() []*Phdr {
	var out []*Phdr
	for i := 0; i < int(img.ehdr.Phnum); i++ {
		ph := phdrAt(img.data, img.ehdr, i)
		if ph.Type == ptLoad {
			out = append(out, ph)
		}
	}
	return out
}
