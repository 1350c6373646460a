package common

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// AppErrorHeader - a http response header to send an application error code.
	AppErrorHeader = "X-App-Error-Code"

	ClientHeader    = "X-App-Client-ID"
	ClientKeyHeader = "X-App-Client-Key"
	TimestampHeader = "X-App-Timestamp"

	// ClientSignatureHeader carries the signature over the request hash.
	ClientSignatureHeader = "X-App-Client-Signature"

	// RequestHashHeader carries the canonical digest the signature covers.
	RequestHashHeader = "X-App-Request-Hash"
)

/*ReqRespHandlerf - a type for the default handler signature */
type ReqRespHandlerf func(w http.ResponseWriter, r *http.Request)

/*JSONResponderF - a handler that takes standard request (non-json) and responds with a json response
* Useful for POST opertaion where the input is posted as json with
*    Content-type: application/json
* header
 */
type JSONResponderF func(ctx context.Context, r *http.Request) (interface{}, error)

type StatusCodeResponderF func(ctx context.Context, r *http.Request) (interface{}, int, error)

/*Respond - respond either data or error as a response */
func Respond(w http.ResponseWriter, data interface{}, err error) {
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS for all.
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err != nil {
		data := make(map[string]interface{}, 2)
		data["error"] = err.Error()
		if cerr, ok := err.(*Error); ok {
			data["code"] = cerr.Code
		}
		w.WriteHeader(400)
		json.NewEncoder(w).Encode(data) //nolint:errcheck
	} else if data != nil {
		json.NewEncoder(w).Encode(data) //nolint:errcheck
	}
}

func SetupCORSResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Accept-Encoding")
}

/*ToJSONResponse - An adapter that takes a handler of the form
* func AHandler(r *http.Request) (interface{}, error)
* which takes a request object, processes and returns an object or an error
* and converts into a standard request/response handler
 */
func ToJSONResponse(handler JSONResponderF) ReqRespHandlerf {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // CORS for all.
		if r.Method == "OPTIONS" {
			SetupCORSResponse(w, r)
			return
		}
		ctx := r.Context()
		data, err := handler(ctx, r)
		Respond(w, data, err)
	}
}

// ToStatusCode is ToJSONResponse for handlers that pick their own status.
// A zero code means 400 on error and 200 otherwise. Errors are written as
// the standard {code, error} envelope with the code echoed in
// AppErrorHeader.
func ToStatusCode(handler StatusCodeResponderF) ReqRespHandlerf {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // CORS for all.
		if r.Method == "OPTIONS" {
			SetupCORSResponse(w, r)
			return
		}

		ctx := r.Context()

		data, statusCode, err := handler(ctx, r)

		if err != nil {
			if statusCode == 0 {
				statusCode = http.StatusBadRequest
			}

			envelope := make(map[string]interface{}, 2)
			envelope["error"] = err.Error()
			if cerr, ok := err.(*Error); ok {
				envelope["code"] = cerr.Code
				envelope["error"] = cerr.Msg
				w.Header().Set(AppErrorHeader, cerr.Code)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(statusCode)
			json.NewEncoder(w).Encode(envelope) //nolint:errcheck
			return
		}

		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		if data == nil {
			w.WriteHeader(statusCode)
			return
		}

		if rawdata, ok := data.([]byte); ok {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(rawdata)))
			w.WriteHeader(statusCode)
			w.Write(rawdata) //nolint:errcheck
			return
		}

		jsonData, err := json.Marshal(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(jsonData)))
		w.WriteHeader(statusCode)
		w.Write(jsonData) //nolint:errcheck
	}
}
