package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/CH563/web-transfer/internal/hub/signaling"
	"github.com/CH563/web-transfer/internal/hub/store"
)

// PendingOffers fetches this device's transfer inventory from the hub
// and registers every pending inbound transfer the engine has not seen
// yet. Offers made while the device was offline surface this way on
// reconnect; the returned offers still await the user's decision.
func (e *Engine) PendingOffers(ctx context.Context) ([]Offer, error) {
	endpoint := fmt.Sprintf("%s/transfers/%s", e.cfg.APIBaseURL, e.cfg.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError("build inventory request", err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, NewError("fetch inventory", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError("fetch inventory", fmt.Errorf("unexpected status %s", resp.Status))
	}

	var body struct {
		Active []store.Transfer `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, NewError("decode inventory", err)
	}

	var offers []Offer
	for _, tr := range body.Active {
		if tr.Status != store.StatusPending || tr.ReceiverID != e.cfg.DeviceID {
			continue
		}
		if _, known := e.get(tr.ID); known {
			continue
		}
		offers = append(offers, e.RegisterOffer(&signaling.Message{
			Type:       signaling.TypeTransferOffer,
			TransferID: tr.ID,
			FileName:   tr.FileName,
			FileSize:   tr.FileSize,
			FileType:   tr.FileType,
			SenderID:   tr.SenderID,
			ReceiverID: tr.ReceiverID,
		}))
	}
	return offers, nil
}
