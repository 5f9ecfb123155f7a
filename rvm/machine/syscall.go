package machine

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/isa"
)

const (
	SyscallExit       = 93
	SyscallDebugPrint = 2177

	// debugPrintLimit bounds the NUL-terminated string read by debug print.
	debugPrintLimit = 4096
)

// SyscallFunc handles one ecall number. Arguments are in a0..a5.
type SyscallFunc func(m *Machine) error

func defaultSyscalls() map[uint64]SyscallFunc {
	return map[uint64]SyscallFunc{
		SyscallExit:       sysExit,
		SyscallDebugPrint: sysDebugPrint,
	}
}

// RegisterSyscall installs or replaces the handler for number.
func (m *Machine) RegisterSyscall(number uint64, f SyscallFunc) {
	m.syscalls[number] = f
}

func sysExit(m *Machine) error {
	m.Exit(int8(m.Register(isa.A0)))
	log.Debug(log.MachineMonitoring, "exit", "code", m.exitCode, "cycles", m.cycles)
	return nil
}

func sysDebugPrint(m *Machine) error {
	addr := m.Register(isa.A0)
	var buf bytes.Buffer
	for buf.Len() < debugPrintLimit {
		c, err := m.memory.Load8(addr + uint64(buf.Len()))
		if err != nil {
			return err
		}
		if c == 0 {
			break
		}
		buf.WriteByte(byte(c))
	}
	if _, err := m.stdout.Write(buf.Bytes()); err != nil {
		return err
	}
	log.Trace(log.MachineMonitoring, "debug print", "addr", fmt.Sprintf("0x%x", addr), "len", buf.Len())
	return nil
}
