package feature

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"testing"
)

// buildPE32 assembles a minimal but structurally valid PE32 image with
// one .text section of 0x200 raw bytes.
func buildPE32(t *testing.T) []byte {
	t.Helper()

	dos := make([]byte, 0x80)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x80)

	var buf bytes.Buffer
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	fileHeader := pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		TimeDateStamp:        0x5f5e0f00,
		SizeOfOptionalHeader: 224,
		Characteristics:      0x0102, // EXECUTABLE_IMAGE | MACHINE_32BIT
	}
	if err := binary.Write(&buf, binary.LittleEndian, fileHeader); err != nil {
		t.Fatalf("writing file header: %v", err)
	}

	opt := pe.OptionalHeader32{
		Magic:                 0x10b,
		MajorLinkerVersion:    14,
		MinorLinkerVersion:    2,
		SizeOfCode:            0x200,
		AddressOfEntryPoint:   0x1000,
		BaseOfCode:            0x1000,
		ImageBase:             0x400000,
		SectionAlignment:      0x1000,
		FileAlignment:         0x200,
		MajorSubsystemVersion: 6,
		SizeOfImage:           0x2000,
		SizeOfHeaders:         0x200,
		Subsystem:             3, // WINDOWS_CUI
		SizeOfStackReserve:    0x100000,
		SizeOfStackCommit:     0x1000,
		SizeOfHeapReserve:     0x100000,
		SizeOfHeapCommit:      0x1000,
		NumberOfRvaAndSizes:   16,
	}
	if err := binary.Write(&buf, binary.LittleEndian, opt); err != nil {
		t.Fatalf("writing optional header: %v", err)
	}

	var name [8]byte
	copy(name[:], ".text")
	section := pe.SectionHeader32{
		Name:             name,
		VirtualSize:      0x1000,
		VirtualAddress:   0x1000,
		SizeOfRawData:    0x200,
		PointerToRawData: 0x200,
		Characteristics:  0x60000020, // CNT_CODE | MEM_EXECUTE | MEM_READ
	}
	if err := binary.Write(&buf, binary.LittleEndian, section); err != nil {
		t.Fatalf("writing section header: %v", err)
	}

	image := make([]byte, 0x400)
	copy(image, buf.Bytes())
	copy(image[0x200:], pseudoBytes(0x200, 99))
	return image
}

func TestParsePEValidImage(t *testing.T) {
	p := parsePE(buildPE32(t))
	if !p.parsed() {
		t.Fatal("expected image to parse")
	}
	if p.magic != 0x10b || p.is64 {
		t.Fatalf("expected PE32, got magic %#x is64=%v", p.magic, p.is64)
	}
	if p.subsystem != 3 {
		t.Fatalf("subsystem %d, expected 3", p.subsystem)
	}
	if len(p.file.Sections) != 1 || p.file.Sections[0].Name != ".text" {
		t.Fatalf("unexpected section table: %+v", p.file.Sections)
	}
	if entry := entrySection(p); entry == nil || entry.Name != ".text" {
		t.Fatalf("entry point not resolved to .text: %v", entry)
	}
}

func TestParsePEGarbageInput(t *testing.T) {
	garbage := pseudoBytes(256, 5)
	copy(garbage, "MZ")
	binary.LittleEndian.PutUint32(garbage[0x3c:], 0xffff0000) // e_lfanew past EOF
	p := parsePE(garbage)
	if p.parsed() {
		t.Fatal("garbage input should not parse")
	}
}

func TestExtractValidPE(t *testing.T) {
	image := buildPE32(t)
	v, err := Extract(image)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	general := v.Group("general")
	if general[0] != float32(len(image)) {
		t.Fatalf("file size feature %v, expected %d", general[0], len(image))
	}
	if general[1] != 0x2000 {
		t.Fatalf("virtual size feature %v, expected 0x2000", general[1])
	}

	header := v.Group("header")
	if header[0] != float32(0x5f5e0f00) {
		t.Fatalf("timestamp feature %v, expected %v", header[0], float32(0x5f5e0f00))
	}
	if header[53] != 14 || header[54] != 2 {
		t.Fatalf("linker version features %v/%v, expected 14/2", header[53], header[54])
	}

	sections := v.Group("sections")
	if sections[0] != 1 {
		t.Fatalf("section count %v, expected 1", sections[0])
	}
	if sections[3] != 1 {
		t.Fatalf("exec+read section count %v, expected 1", sections[3])
	}
}

func TestExtractOverlay(t *testing.T) {
	image := buildPE32(t)
	overlay := append([]byte("PK\x03\x04"), pseudoBytes(60, 13)...)
	v, err := Extract(append(image, overlay...))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	features := v.Group("overlay")
	if features[0] != float32(len(overlay)) {
		t.Fatalf("overlay size %v, expected %d", features[0], len(overlay))
	}
	if features[1] <= 0 || features[1] >= 1 {
		t.Fatalf("overlay ratio %v out of range", features[1])
	}
	if features[3] != 1 {
		t.Fatalf("zip magic flag %v, expected 1", features[3])
	}
}

func TestParseRichHeader(t *testing.T) {
	const key = uint32(0xdeadbeef)
	data := make([]byte, 128)
	put := binary.LittleEndian.PutUint32
	put(data[0:], 0x536e6144^key) // DanS
	put(data[4:], key)
	put(data[8:], key)
	put(data[12:], key)
	put(data[16:], 0x00010002^key) // compID
	put(data[20:], 3^key)          // count
	copy(data[24:], "Rich")
	put(data[28:], key)

	p := &parsedPE{data: data}
	p.parseRichHeader()
	if len(p.rich) != 1 {
		t.Fatalf("rich entries %d, expected 1", len(p.rich))
	}
	if p.rich[0].compID != 0x00010002 || p.rich[0].count != 3 {
		t.Fatalf("unexpected rich entry: %+v", p.rich[0])
	}
}

func TestRVAToOffset(t *testing.T) {
	p := parsePE(buildPE32(t))
	offset, ok := p.rvaToOffset(0x1010)
	if !ok || offset != 0x210 {
		t.Fatalf("rva 0x1010 -> offset %#x ok=%v, expected 0x210", offset, ok)
	}
	if _, ok := p.rvaToOffset(0x9000000); ok {
		t.Fatal("out-of-image rva should not resolve")
	}
}
