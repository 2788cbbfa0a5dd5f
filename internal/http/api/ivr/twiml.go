package ivr

import (
	"encoding/xml"
	"net/http"

	"github.com/gin-gonic/gin"
)

// response is a TwiML document. Verbs render in order.
type response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Input       string   `xml:"input,attr"`
	NumDigits   int      `xml:"numDigits,attr"`
	Timeout     int      `xml:"timeout,attr"`
	FinishOnKey string   `xml:"finishOnKey,attr"`
	Action      string   `xml:"action,attr"`
	Method      string   `xml:"method,attr"`
	Verbs       []any
}

type redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

type hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (h *Handler) say(text string) say {
	return say{Voice: h.voice, Text: text}
}

func phoneGather(action string, prompts ...any) gather {
	return gather{
		Input:       "dtmf",
		NumDigits:   10,
		Timeout:     3,
		FinishOnKey: "#",
		Action:      action,
		Method:      http.MethodPost,
		Verbs:       prompts,
	}
}

func render(c *gin.Context, verbs ...any) {
	body, errMarshal := xml.Marshal(response{Verbs: verbs})
	if errMarshal != nil {
		c.Data(http.StatusInternalServerError, "text/xml; charset=utf-8", []byte(xml.Header+"<Response><Hangup/></Response>"))
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", append([]byte(xml.Header), body...))
}
