// Package ptz controls PTZ cameras: an ONVIF SOAP client, a serialized
// command queue, the auto-tracker, and the patrol engine.
package ptz

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/technosupport/ts-safety/internal/data"
)

// Camera is what the controller and patrol engine drive. The ONVIF
// device implements it; tests substitute a fake.
type Camera interface {
	ContinuousMove(ctx context.Context, pan, tilt, zoom float64) error
	AbsoluteMove(ctx context.Context, pan, tilt, zoom float64) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (data.PTZPosition, error)
}

// OnvifDevice speaks SOAP to a camera's PTZ service with WS-UsernameToken
// auth. Initialize must run before movement calls; it resolves the media
// profile token the PTZ operations are scoped to.
type OnvifDevice struct {
	baseURL     string
	username    string
	password    string
	profileName string
	profile     string // resolved token
	http        *http.Client
}

func NewOnvifDevice(creds data.PTZCredentials) *OnvifDevice {
	return &OnvifDevice{
		baseURL:     fmt.Sprintf("http://%s:%d/onvif/device_service", creds.CamIP, creds.Port),
		username:    creds.Username,
		password:    creds.Password,
		profileName: creds.ProfileName,
		http:        &http.Client{Timeout: 3 * time.Second},
	}
}

type mediaProfile struct {
	Name  string `xml:"Name"`
	Token string `xml:"token,attr"`
}

// Initialize fetches the device's media profiles and picks the configured
// one, or the first when no profile name is set.
func (d *OnvifDevice) Initialize(ctx context.Context) error {
	resp, err := d.do(ctx, `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`)
	if err != nil {
		return fmt.Errorf("ptz: get profiles: %w", err)
	}

	var parsed struct {
		Body struct {
			GetProfilesResponse struct {
				Profiles []mediaProfile `xml:"Profiles"`
			} `xml:"GetProfilesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return fmt.Errorf("ptz: parse profiles: %w", err)
	}
	profiles := parsed.Body.GetProfilesResponse.Profiles
	if len(profiles) == 0 {
		return fmt.Errorf("ptz: device reported no media profiles")
	}

	d.profile = profiles[0].Token
	if d.profileName != "" {
		for _, p := range profiles {
			if p.Name == d.profileName {
				d.profile = p.Token
				break
			}
		}
	}
	return nil
}

// ContinuousMove starts moving with the given normalized velocities.
func (d *OnvifDevice) ContinuousMove(ctx context.Context, pan, tilt, zoom float64) error {
	body := fmt.Sprintf(`<tptz:ContinuousMove xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:Velocity>
			<PanTilt xmlns="http://www.onvif.org/ver10/schema" x="%f" y="%f"/>
			<Zoom xmlns="http://www.onvif.org/ver10/schema" x="%f"/>
		</tptz:Velocity>
	</tptz:ContinuousMove>`, d.profile, pan, tilt, zoom)
	_, err := d.do(ctx, body)
	if err != nil {
		return fmt.Errorf("ptz: continuous move: %w", err)
	}
	return nil
}

// AbsoluteMove drives the camera to an absolute position.
func (d *OnvifDevice) AbsoluteMove(ctx context.Context, pan, tilt, zoom float64) error {
	body := fmt.Sprintf(`<tptz:AbsoluteMove xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:Position>
			<PanTilt xmlns="http://www.onvif.org/ver10/schema" x="%f" y="%f"/>
			<Zoom xmlns="http://www.onvif.org/ver10/schema" x="%f"/>
		</tptz:Position>
	</tptz:AbsoluteMove>`, d.profile, pan, tilt, zoom)
	_, err := d.do(ctx, body)
	if err != nil {
		return fmt.Errorf("ptz: absolute move: %w", err)
	}
	return nil
}

// Stop halts pan, tilt and zoom movement.
func (d *OnvifDevice) Stop(ctx context.Context) error {
	body := fmt.Sprintf(`<tptz:Stop xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:PanTilt>true</tptz:PanTilt>
		<tptz:Zoom>true</tptz:Zoom>
	</tptz:Stop>`, d.profile)
	_, err := d.do(ctx, body)
	if err != nil {
		return fmt.Errorf("ptz: stop: %w", err)
	}
	return nil
}

// Status reads the current position from the device.
func (d *OnvifDevice) Status(ctx context.Context) (data.PTZPosition, error) {
	body := fmt.Sprintf(`<tptz:GetStatus xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
	</tptz:GetStatus>`, d.profile)
	resp, err := d.do(ctx, body)
	if err != nil {
		return data.PTZPosition{}, fmt.Errorf("ptz: get status: %w", err)
	}

	var parsed struct {
		Body struct {
			GetStatusResponse struct {
				PTZStatus struct {
					Position struct {
						PanTilt struct {
							X float64 `xml:"x,attr"`
							Y float64 `xml:"y,attr"`
						} `xml:"PanTilt"`
						Zoom struct {
							X float64 `xml:"x,attr"`
						} `xml:"Zoom"`
					} `xml:"Position"`
				} `xml:"PTZStatus"`
			} `xml:"GetStatusResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return data.PTZPosition{}, fmt.Errorf("ptz: parse status: %w", err)
	}
	pos := parsed.Body.GetStatusResponse.PTZStatus.Position
	return data.PTZPosition{Pan: pos.PanTilt.X, Tilt: pos.PanTilt.Y, Zoom: pos.Zoom.X}, nil
}

func (d *OnvifDevice) do(ctx context.Context, inner string) ([]byte, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
	<s:Header>%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`, d.securityHeader(), inner)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action=""`)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fault, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("onvif error %d: %s", resp.StatusCode, string(fault))
	}
	return io.ReadAll(resp.Body)
}

// securityHeader builds the WS-UsernameToken digest header. The raw nonce
// bytes feed the SHA1; the XML carries them base64 encoded.
func (d *OnvifDevice) securityHeader() string {
	if d.username == "" {
		return ""
	}
	nonceRaw := fmt.Sprintf("%d", time.Now().UnixNano())
	nonce := base64.StdEncoding.EncodeToString([]byte(nonceRaw))
	created := time.Now().UTC().Format(time.RFC3339)

	h := sha1.New()
	h.Write([]byte(nonceRaw))
	h.Write([]byte(created))
	h.Write([]byte(d.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(`<Security xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
		<UsernameToken>
			<Username>%s</Username>
			<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
			<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
			<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
		</UsernameToken>
	</Security>`, d.username, digest, nonce, created)
}
