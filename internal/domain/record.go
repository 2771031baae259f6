package domain

import "encoding/xml"

// TestRunRecord is one batch's entry in the results file
type TestRunRecord struct {
	XMLName  xml.Name         `xml:"test-run"`
	ID       string           `xml:"id,attr"`
	Batch    int              `xml:"batch,attr"`
	Product  string           `xml:"product,attr,omitempty"`
	Version  string           `xml:"version,attr,omitempty"`
	Model    string           `xml:"model,attr,omitempty"`
	Started  string           `xml:"start-time,attr"`
	Finished string           `xml:"end-time,attr"`
	Cases    []TestCaseRecord `xml:"test-case"`
}

// TestCaseRecord is the outcome of one test inside a TestRunRecord
type TestCaseRecord struct {
	ID       string         `xml:"fullname,attr"`
	Name     string         `xml:"name,attr"`
	Fixture  string         `xml:"classname,attr"`
	Assembly string         `xml:"assembly,attr"`
	Result   TestStatus     `xml:"result,attr"`
	Duration float64        `xml:"duration,attr"`
	Failure  *FailureRecord `xml:"failure,omitempty"`
}

// FailureRecord holds the diagnostics of a test that did not pass
type FailureRecord struct {
	Message    string `xml:"message"`
	StackTrace string `xml:"stack-trace,omitempty"`
}
