// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("DL_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	c := resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(5 * time.Minute).
		SetHeader("Content-Type", "application/json")
	if token := os.Getenv("DL_TOKEN"); token != "" {
		c.SetAuthToken(token)
	}
	return c
}

// apiError 从错误响应中取出 error/code
func apiError(method, path string, resp *resty.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		if body.Code != "" {
			return fmt.Errorf("%s %s: %d %s (%s)", method, path, resp.StatusCode(), body.Error, body.Code)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), body.Error)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), resp.String())
}

func getJSON(path string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError("GET", path, resp)
	}
	return out, nil
}

func postJSON(path string, body interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := newClient().R().SetResult(&out)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, apiError("POST", path, resp)
	}
	return out, nil
}

func getDispatch(id string) (map[string]interface{}, error) {
	return getJSON("/api/dispatches/" + id)
}

func verifyDispatch(id string) (map[string]interface{}, error) {
	return postJSON("/api/dispatches/"+id+"/verify", nil)
}

func retryAnchor(id string) (map[string]interface{}, error) {
	return postJSON("/api/dispatches/"+id+"/anchor/retry", nil)
}

func getLedgerRecord(id string) (map[string]interface{}, error) {
	return getJSON("/api/dispatches/" + id + "/ledger-record")
}

func getLedgerStatus() (map[string]interface{}, error) {
	return getJSON("/api/ledger/status")
}

func startStepUp() (map[string]interface{}, error) {
	return postJSON("/api/auth/step-up", nil)
}

func verifyStepUp(challengeID, code string) (map[string]interface{}, error) {
	return postJSON("/api/auth/step-up/verify", map[string]string{
		"challengeId": challengeID,
		"code":        code,
	})
}

func downloadEvidence(id string) ([]byte, error) {
	path := "/api/dispatches/" + id + "/evidence"
	resp, err := newClient().R().
		SetHeader("Accept", "application/zip").
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError("GET", path, resp)
	}
	return resp.Body(), nil
}

func prettyJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
