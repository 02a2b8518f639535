// Package utils provides miscellaneous utilities shared across the scheduler core.
package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

func ByteSliceToUint32(byteSlice []byte) (u32 uint32, ok bool) {
	if 4 != len(byteSlice) {
		ok = false
		return
	}

	u32 = binary.LittleEndian.Uint32(byteSlice)
	ok = true

	return
}

func Uint32ToByteSlice(u32 uint32) (byteSlice []byte) {
	byteSlice = make([]byte, 4)

	binary.LittleEndian.PutUint32(byteSlice, u32)

	return
}

func ByteSliceToUint64(byteSlice []byte) (u64 uint64, ok bool) {
	if 8 != len(byteSlice) {
		ok = false
		return
	}

	u64 = binary.LittleEndian.Uint64(byteSlice)
	ok = true

	return
}

func Uint64ToByteSlice(u64 uint64) (byteSlice []byte) {
	byteSlice = make([]byte, 8)

	binary.LittleEndian.PutUint64(byteSlice, u64)

	return
}

func ByteSliceToString(byteSlice []byte) (str string) {
	str = string(byteSlice[:])
	return
}

func StringToByteSlice(str string) (byteSlice []byte) {
	byteSlice = []byte(str)
	return
}

// XXX TODO TEMPORARY:
//
// I know our go-overlords would prefer that we knew nothing about goroutines,
// but logging the goroutine context can be useful when trying to debug things
// like locking.
//
// Intent is to have this now and hopefully remove it once we've gotten debugged.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// GetAFnName returns a string containing calling function and package.
func GetAFnName(level int) string {
	pc, _, _, _ := runtime.Caller(level + 1)
	functionObject := runtime.FuncForPC(pc)
	extractFnName := regexp.MustCompile(`[^\/]*$`)
	return extractFnName.FindString(functionObject.Name())
}

// GetFuncPackage returns separate strings containing calling function, package, and goroutine id.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	extractPkgName := regexp.MustCompile(`^[^.]*`)
	pkg = extractPkgName.FindString(funcPkg)

	extractFnName := regexp.MustCompile(`[^.]*$`)
	fn = extractFnName.FindString(funcPkg)

	gid = GetGID()

	return fn, pkg, gid
}

// GetFnName returns a string containing the name of the running function and its package.
func GetFnName() string {
	return GetAFnName(1)
}

// GetCallerFnName returns a string containing the name of the calling function.
func GetCallerFnName() string {
	return GetAFnName(2)
}

// ByteToHexDigit returns the (uppercase) hex character representation of the low order nibble of the byte supplied.
func ByteToHexDigit(u8 byte) (digit byte) {
	u8 = u8 & 0x0F
	if 0x0A > u8 {
		digit = '0' + u8
	} else {
		digit = 'A' + (u8 - 0x0A)
	}

	return
}

func Uint64ToHexStr(value uint64) string {
	return fmt.Sprintf("%016X", value)
}

func HexStrToUint64(value string) (uint64, error) {
	return strconv.ParseUint(value, 16, 64)
}

// Stopwatch times a single span; used for the tenant block-latency ring
// and for the allocator's window timing diagnostics.
type Stopwatch struct {
	StartTime   time.Time
	StopTime    time.Time
	ElapsedTime time.Duration
	IsRunning   bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

func (sw *Stopwatch) Stop() time.Duration {
	sw.StopTime = time.Now()

	if sw.IsRunning {
		sw.ElapsedTime = sw.StopTime.Sub(sw.StartTime)
		sw.IsRunning = false
	}
	return sw.ElapsedTime
}

func (sw *Stopwatch) Restart() {
	if !sw.IsRunning {
		sw.ElapsedTime = 0
		sw.StartTime = time.Now()
		sw.StopTime = time.Time{}
		sw.IsRunning = true
	}
}

func (sw *Stopwatch) Elapsed() time.Duration {
	if !sw.IsRunning {
		return sw.ElapsedTime
	}
	return time.Since(sw.StartTime)
}

func (sw *Stopwatch) ElapsedUs() int64 {
	return int64(sw.Elapsed() / time.Microsecond)
}
