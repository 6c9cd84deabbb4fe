package discovery

import (
	"fmt"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeFeedTXT creates the TXT records of a feed announcement.
func EncodeFeedTXT(info *FeedInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyVersion:  TXTVersion,
		TXTKeyProtocol: string(info.Protocol),
	}
	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.Subject != "" {
		txt[TXTKeySubject] = info.Subject
	}
	if info.Band != "" {
		txt[TXTKeyBand] = info.Band
	}
	return txt
}

// DecodeFeedTXT parses feed TXT records into a Feed without addressing.
func DecodeFeedTXT(txt TXTRecordMap) (*Feed, error) {
	v, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if v != TXTVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}

	p, ok := txt[TXTKeyProtocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyProtocol)
	}
	proto := Protocol(p)
	if !proto.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProtocol, p)
	}

	return &Feed{
		Protocol: proto,
		Path:     txt[TXTKeyPath],
		Subject:  txt[TXTKeySubject],
		Band:     txt[TXTKeyBand],
	}, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// InstanceName derives a valid instance name from a venue.
func InstanceName(venue string) (string, error) {
	name := strings.TrimSpace(venue)
	if name == "" {
		return "", ErrEmptyVenue
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name, nil
}
