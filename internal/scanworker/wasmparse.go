package scanworker

// wasmparse walks the core Wasm binary format (not the outer Component
// Model container, which wraps a tree of core modules) far enough to pull
// out what the heuristic rules need: imports, exports, declared memory
// limits, and data-segment payload bytes. No Wasm-parsing library exists
// anywhere in the example pack this module was built from, so this is a
// deliberate, narrowly-scoped stdlib implementation (encoding handled by
// hand-rolled LEB128 readers, since encoding/binary only covers
// fixed-width integers) rather than a general-purpose decoder: unknown or
// malformed sections are reported as an error and the scan falls back to
// treating the artifact as suspicious, rather than attempting to recover.

import (
	"bytes"
	"fmt"
	"io"
)

const (
	sectionCustom   = 0
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionTable    = 4
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionStart    = 8
	sectionElement  = 9
	sectionCode     = 10
	sectionData     = 11
)

// ImportEntry is one entry from a module's import section.
type ImportEntry struct {
	Module string
	Field  string
	Kind   byte // 0=func, 1=table, 2=memory, 3=global
}

// MemoryLimits is one memory or table's declared size bounds, in pages.
type MemoryLimits struct {
	Initial uint32
	Max     uint32
	HasMax  bool
}

// ModuleInfo is what ParseModule extracts from a binary for scan heuristics.
type ModuleInfo struct {
	Imports   []ImportEntry
	Exports   []string
	Memories  []MemoryLimits
	DataBytes []byte
}

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6D}

// ParseModule walks a core Wasm module's section headers, decoding the
// import, memory, export, and data sections and skipping the rest.
func ParseModule(data []byte) (*ModuleInfo, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != wasmMagic {
		return nil, fmt.Errorf("not a wasm binary: bad magic %x", magic)
	}
	var version [4]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}

	info := &ModuleInfo{}
	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}
		size, err := readVarUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read section %d size: %w", id, err)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read section %d payload: %w", id, err)
		}

		switch id {
		case sectionImport:
			imports, err := parseImportSection(payload)
			if err != nil {
				return nil, fmt.Errorf("parse import section: %w", err)
			}
			info.Imports = imports
		case sectionMemory:
			mems, err := parseMemorySection(payload)
			if err != nil {
				return nil, fmt.Errorf("parse memory section: %w", err)
			}
			info.Memories = append(info.Memories, mems...)
		case sectionExport:
			exports, err := parseExportSection(payload)
			if err != nil {
				return nil, fmt.Errorf("parse export section: %w", err)
			}
			info.Exports = exports
		case sectionData:
			dataBytes, err := parseDataSection(payload)
			if err != nil {
				return nil, fmt.Errorf("parse data section: %w", err)
			}
			info.DataBytes = dataBytes
		}
	}
	return info, nil
}

func parseImportSection(payload []byte) ([]ImportEntry, error) {
	r := bytes.NewReader(payload)
	count, err := readVarUint32(r)
	if err != nil {
		return nil, err
	}
	imports := make([]ImportEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		module, err := readName(r)
		if err != nil {
			return nil, err
		}
		field, err := readName(r)
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch kind {
		case 0: // func: typeidx
			if _, err := readVarUint32(r); err != nil {
				return nil, err
			}
		case 1: // table: elemtype + limits
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
			if _, err := readLimits(r); err != nil {
				return nil, err
			}
		case 2: // memory: limits
			if _, err := readLimits(r); err != nil {
				return nil, err
			}
		case 3: // global: valtype + mutability
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown import kind %d", kind)
		}
		imports = append(imports, ImportEntry{Module: module, Field: field, Kind: kind})
	}
	return imports, nil
}

func parseMemorySection(payload []byte) ([]MemoryLimits, error) {
	r := bytes.NewReader(payload)
	count, err := readVarUint32(r)
	if err != nil {
		return nil, err
	}
	mems := make([]MemoryLimits, 0, count)
	for i := uint32(0); i < count; i++ {
		lim, err := readLimits(r)
		if err != nil {
			return nil, err
		}
		mems = append(mems, lim)
	}
	return mems, nil
}

func parseExportSection(payload []byte) ([]string, error) {
	r := bytes.NewReader(payload)
	count, err := readVarUint32(r)
	if err != nil {
		return nil, err
	}
	exports := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadByte(); err != nil { // kind
			return nil, err
		}
		if _, err := readVarUint32(r); err != nil { // index
			return nil, err
		}
		exports = append(exports, name)
	}
	return exports, nil
}

func parseDataSection(payload []byte) ([]byte, error) {
	r := bytes.NewReader(payload)
	count, err := readVarUint32(r)
	if err != nil {
		return nil, err
	}
	var all []byte
	for i := uint32(0); i < count; i++ {
		flag, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0: // active, memory 0, offset expr
			if err := skipConstExpr(r); err != nil {
				return nil, err
			}
		case 1: // passive
		case 2: // active, explicit memidx, offset expr
			if _, err := readVarUint32(r); err != nil {
				return nil, err
			}
			if err := skipConstExpr(r); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown data segment flag %d", flag)
		}
		size, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		all = append(all, buf...)
	}
	return all, nil
}

// skipConstExpr consumes a constant-expression instruction sequence (used
// for data/element segment offsets), stopping at the 0x0B "end" opcode.
// Only the handful of opcodes legal in a constant expression are handled.
func skipConstExpr(r *bytes.Reader) error {
	for {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch op {
		case 0x0B: // end
			return nil
		case 0x41: // i32.const
			if _, err := readVarInt64(r); err != nil {
				return err
			}
		case 0x42: // i64.const
			if _, err := readVarInt64(r); err != nil {
				return err
			}
		case 0x23: // global.get
			if _, err := readVarUint32(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported const expr opcode 0x%02x", op)
		}
	}
}

func readLimits(r *bytes.Reader) (MemoryLimits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return MemoryLimits{}, err
	}
	min, err := readVarUint32(r)
	if err != nil {
		return MemoryLimits{}, err
	}
	lim := MemoryLimits{Initial: min}
	if flags&0x01 != 0 {
		max, err := readVarUint32(r)
		if err != nil {
			return MemoryLimits{}, err
		}
		lim.Max = max
		lim.HasMax = true
	}
	return lim, nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readVarUint32(r *bytes.Reader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 35 {
			return 0, fmt.Errorf("varuint32 overflow")
		}
	}
	return result, nil
}

// readVarInt64 reads a signed LEB128 value wide enough for both i32.const
// and i64.const immediates; callers that only need i32 range truncate.
func readVarInt64(r *bytes.Reader) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, fmt.Errorf("varint64 overflow")
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}
