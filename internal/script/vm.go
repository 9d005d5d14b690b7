// Package script implements the minimal stack-based predicate language
// used to authorize spending an output: a deterministic, non-branching,
// non-looping virtual machine evaluating one unlock script concatenated
// with one lock script per spent input.
package script

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/cryptoprim"
)

// Clock lets tests pin OP_CHECKLOCKTIME's notion of "now"; production code
// uses the zero value, which falls back to time.Now.
type Clock func() time.Time

// opcodes is the normative minimum viable opcode set from spec.md §4.6.
// Any token not in this set is treated as data and pushed verbatim.
var opcodes = map[string]func(*vm) bool{
	"OP_SHA256":        opSHA256,
	"OP_CHECKSIG":      opCheckSig,
	"OP_RETURN":        opReturn,
	"OP_CHECKLOCKTIME": opCheckLockTime,
}

type vm struct {
	stack []string
	txHash cryptoprim.Hash
	now    Clock
	log    *zap.SugaredLogger
}

func (m *vm) push(s string) { m.stack = append(m.stack, s) }

// pop removes and returns the top of the stack. ok is false on underflow.
func (m *vm) pop() (string, bool) {
	if len(m.stack) == 0 {
		return "", false
	}
	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return top, true
}

func (m *vm) fail(reason string) bool {
	if m.log != nil {
		m.log.Warnw("script: opcode failed", "reason", reason)
	}
	return false
}

// Execute runs unlockScript followed by lockScript against txHash and
// reports whether the combined script authorizes the spend: execution must
// consume every token and leave exactly the single value "1" on the stack.
// Any internal opcode failure (stack underflow, bad signature, bad
// timestamp, an OP_RETURN) makes the whole evaluation fail, even if a
// later token would otherwise have pushed a "1".
func Execute(unlockScript, lockScript string, txHash cryptoprim.Hash, log *zap.SugaredLogger) bool {
	return execute(unlockScript, lockScript, txHash, nil, log)
}

// ExecuteAt is Execute with an injected clock, used by tests that exercise
// OP_CHECKLOCKTIME around a fixed point in time.
func ExecuteAt(unlockScript, lockScript string, txHash cryptoprim.Hash, now Clock, log *zap.SugaredLogger) bool {
	return execute(unlockScript, lockScript, txHash, now, log)
}

func execute(unlockScript, lockScript string, txHash cryptoprim.Hash, now Clock, log *zap.SugaredLogger) bool {
	if now == nil {
		now = time.Now
	}
	m := &vm{txHash: txHash, now: now, log: log}

	tokens := append(strings.Fields(unlockScript), strings.Fields(lockScript)...)
	for _, tok := range tokens {
		op, isOp := opcodes[tok]
		if !isOp {
			m.push(tok)
			continue
		}
		if !op(m) {
			return false
		}
	}

	return len(m.stack) == 1 && m.stack[0] == "1"
}

// opSHA256 pops a value and pushes its hex-encoded SHA-256 digest.
func opSHA256(m *vm) bool {
	v, ok := m.pop()
	if !ok {
		return m.fail("OP_SHA256: stack empty")
	}
	m.push(hex.EncodeToString(cryptoprim.Sum256([]byte(v))[:]))
	return true
}

// opCheckSig pops a public key then a signature, verifies the signature
// against the VM's transaction hash, and pushes "1" on success. On any
// failure (too few arguments, an undecodable key or signature, or a
// signature that does not verify) it pushes "0" and fails the script.
func opCheckSig(m *vm) bool {
	if len(m.stack) < 2 {
		m.push("0")
		return m.fail("OP_CHECKSIG: not enough arguments")
	}
	pubHex, _ := m.pop()
	sigHex, _ := m.pop()

	key, err := cryptoprim.KeyFromPublicHex(pubHex)
	if err != nil {
		m.push("0")
		return m.fail("OP_CHECKSIG: bad public key: " + err.Error())
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		m.push("0")
		return m.fail("OP_CHECKSIG: bad signature encoding: " + err.Error())
	}

	if key.Verify(m.txHash, sig) {
		m.push("1")
		return true
	}
	m.push("0")
	return m.fail("OP_CHECKSIG: signature not verified")
}

// opReturn marks the output as provably unspendable: it always fails,
// regardless of stack contents, making any script containing it reject.
func opReturn(m *vm) bool {
	m.push("0")
	return m.fail("OP_RETURN: output is unspendable")
}

// opCheckLockTime pops a Unix timestamp and fails the script unless the
// current time has reached it, leaving the stack untouched otherwise so
// execution can continue with whatever authorization check follows (e.g. an
// OP_CHECKSIG for the timelock's owner).
func opCheckLockTime(m *vm) bool {
	raw, ok := m.pop()
	if !ok {
		return m.fail("OP_CHECKLOCKTIME: stack empty")
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return m.fail("OP_CHECKLOCKTIME: not a timestamp: " + err.Error())
	}
	lockTime := time.Unix(sec, 0).UTC()
	if m.now().UTC().Before(lockTime) {
		return m.fail("OP_CHECKLOCKTIME: lock time not yet reached")
	}
	return true
}
