// Command libt0quant builds t0quant as a C shared library:
//
//	go build -buildmode=c-shared -o libt0quant.so ./cmd/libt0quant
//
// Every function takes and returns JSON strings. Returned strings must be
// released with T0QuantFree.
package main

/*
#include <stdlib.h>

typedef void (*log_callback_t)(const char *msg, void *user_data);
static inline void call_log_callback(log_callback_t cb, const char *msg, void *user_data) {
	if (cb != NULL) {
		cb(msg, user_data);
	}
}
*/
import "C"

import (
	"context"
	"strings"
	"sync"
	"unsafe"

	"github.com/dyike/t0quant/internal/cli"
)

var (
	logCbMu sync.RWMutex
	logCb   C.log_callback_t
	logCtx  unsafe.Pointer
)

// callbackWriter forwards each log record to the registered C callback.
type callbackWriter struct{}

func (callbackWriter) Write(p []byte) (int, error) {
	logCbMu.RLock()
	cb, ctx := logCb, logCtx
	logCbMu.RUnlock()
	if cb == nil {
		return len(p), nil
	}
	cstr := C.CString(strings.TrimRight(string(p), "\n"))
	defer C.free(unsafe.Pointer(cstr))
	C.call_log_callback(cb, cstr, ctx)
	return len(p), nil
}

func goString(ptr *C.char) string {
	if ptr == nil {
		return ""
	}
	return C.GoString(ptr)
}

func cResponse(resp response) *C.char {
	return C.CString(encode(resp))
}

//export T0QuantRegisterLogCallback
func T0QuantRegisterLogCallback(cb C.log_callback_t, user unsafe.Pointer) {
	logCbMu.Lock()
	logCb = cb
	logCtx = user
	logCbMu.Unlock()
	if cb == nil {
		setLogOutput(nil)
		return
	}
	setLogOutput(callbackWriter{})
}

//export T0QuantSetConfigPath
func T0QuantSetConfigPath(path *C.char) *C.char {
	cfg, err := setConfigPath(goString(path))
	if err != nil {
		return cResponse(failure(err))
	}
	return cResponse(response{Success: true, Config: cfg})
}

//export T0QuantGetConfigJSON
func T0QuantGetConfigJSON() *C.char {
	return cResponse(response{Success: true, Config: ensureConfig()})
}

//export T0QuantUpdateConfigJSON
func T0QuantUpdateConfigJSON(configJSON *C.char) *C.char {
	cfg, err := updateConfigJSON(goString(configJSON))
	if err != nil {
		return cResponse(failure(err))
	}
	return cResponse(response{Success: true, Config: cfg})
}

//export T0QuantSimulate
func T0QuantSimulate(requestJSON *C.char) *C.char {
	return cResponse(runSimulate(goString(requestJSON)))
}

//export T0QuantSweep
func T0QuantSweep(requestJSON *C.char) *C.char {
	return cResponse(runSweep(context.Background(), goString(requestJSON)))
}

//export T0QuantBacktest
func T0QuantBacktest(requestJSON *C.char) *C.char {
	return cResponse(runBacktest(context.Background(), goString(requestJSON), nil))
}

//export T0QuantFree
func T0QuantFree(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

//export T0QuantVersion
func T0QuantVersion() *C.char {
	return C.CString(cli.Version)
}

func main() {}
