package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// pageSize is the number of mutations moved per request.
const pageSize = 256

func cloudURL(cloudID identity.CloudID, path string) string {
	return fmt.Sprintf("%s/v1/clouds/%s%s", nodeURL, cloudID, path)
}

// nodeStatus asks the node for its view of the cloud.
func nodeStatus(ctx context.Context, cloudID identity.CloudID) (journal.Status, error) {
	var st journal.Status
	if _, err := send(ctx, http.MethodGet, cloudURL(cloudID, "/status"), nil, &st); err != nil {
		return journal.Status{}, err
	}
	return st, nil
}

// nodeMutations reads the node's copy of the cloud from the start.
func nodeMutations(ctx context.Context, cloudID identity.CloudID) ([]journal.Mutation, error) {
	var all []journal.Mutation

	for {
		from := uint64(len(all))
		url := cloudURL(cloudID, fmt.Sprintf("/mutations/%d/%d", from, from+pageSize-1))

		var page []journal.Mutation
		status, err := send(ctx, http.MethodGet, url, nil, &page)
		if err != nil {
			return nil, err
		}

		if status == http.StatusNoContent || len(page) == 0 {
			return all, nil
		}

		all = append(all, page...)
	}
}

// send is a helper function to send an HTTP request to the node.
func send(ctx context.Context, method string, url string, dataSend any, dataRecv any) (int, error) {
	var body io.Reader

	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}

	if dataSend != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusNotAcceptable {
		var er struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			return resp.StatusCode, fmt.Errorf("%s %s: %s", method, url, resp.Status)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, url, er.Error)
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return resp.StatusCode, err
		}
	}

	return resp.StatusCode, nil
}
