package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleERN = `<?xml version="1.0" encoding="UTF-8"?>
<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/43"
    MessageSchemaVersionId="ern/43"
    ReleaseProfileVersionId="AudioSingle">
  <MessageHeader>
    <MessageId>MSG-2024-0001</MessageId>
    <MessageSender>
      <PartyId>PADPIDA001</PartyId>
      <PartyName><FullName>Acme Records</FullName></PartyName>
    </MessageSender>
    <MessageRecipient>
      <PartyId>PADPIDA002</PartyId>
      <PartyName><FullName>Stardust DSP</FullName></PartyName>
    </MessageRecipient>
    <MessageCreatedDateTime>2024-03-01T12:00:00Z</MessageCreatedDateTime>
  </MessageHeader>
  <ResourceList>
    <SoundRecording>
      <ResourceReference>A1</ResourceReference>
      <SoundRecordingId><ISRC>USRC12400001</ISRC></SoundRecordingId>
      <ReferenceTitle><TitleText>Midnight Drive</TitleText></ReferenceTitle>
      <DisplayArtist>
        <PartyName><FullName>The Gliders</FullName></PartyName>
      </DisplayArtist>
      <Duration>PT3M45S</Duration>
      <TechnicalDetails>
        <File>
          <FilePath>audio</FilePath>
          <FileName>midnight_drive.wav</FileName>
        </File>
      </TechnicalDetails>
    </SoundRecording>
    <Image>
      <ResourceReference>I1</ResourceReference>
      <ImageType>FrontCoverImage</ImageType>
      <TechnicalDetails>
        <File><URI>images/cover.jpg</URI></File>
      </TechnicalDetails>
    </Image>
  </ResourceList>
  <ReleaseList>
    <Release>
      <ReleaseReference>R0</ReleaseReference>
      <ReleaseId><GRid>A10301A00001234567X</GRid><ICPN>190295000000</ICPN></ReleaseId>
      <ReferenceTitle><TitleText>Midnight Drive - Single</TitleText></ReferenceTitle>
      <DisplayArtist>
        <PartyName><FullName>The Gliders</FullName></PartyName>
      </DisplayArtist>
      <LabelName>Acme Records</LabelName>
      <ReleaseDate>2024-04-12</ReleaseDate>
      <Genre><GenreText>Indie Rock</GenreText></Genre>
      <PLine><PLineText>2024 Acme Records</PLineText></PLine>
      <CLine><CLineText>2024 Acme Records</CLineText></CLine>
      <ReleaseResourceReferenceList>
        <ReleaseResourceReference>A1</ReleaseResourceReference>
        <ReleaseResourceReference>I1</ReleaseResourceReference>
      </ReleaseResourceReferenceList>
      <ReleaseDetailsByTerritory>
        <TerritoryCode>US</TerritoryCode>
        <TerritoryCode>CA</TerritoryCode>
      </ReleaseDetailsByTerritory>
    </Release>
  </ReleaseList>
</ern:NewReleaseMessage>`

func TestParseFullMessage(t *testing.T) {
	p := New(zap.NewNop())

	msg, err := p.Parse([]byte(sampleERN))
	require.NoError(t, err)

	assert.Equal(t, "ERN-4.3", msg.Version)
	assert.Equal(t, "AudioSingle", msg.Profile)
	assert.Equal(t, "MSG-2024-0001", msg.Header.MessageID)
	assert.Equal(t, "Acme Records", msg.Header.Sender)
	assert.Equal(t, "Stardust DSP", msg.Header.Recipient)

	require.Len(t, msg.Releases, 1)
	r := msg.Releases[0]
	assert.Equal(t, "A10301A00001234567X", r.GRid)
	assert.Equal(t, "Midnight Drive - Single", r.Title)
	assert.Equal(t, "The Gliders", r.DisplayArtist)
	assert.Equal(t, "Acme Records", r.LabelName)
	assert.Equal(t, "2024-04-12", r.ReleaseDate)
	assert.Equal(t, []string{"Indie Rock"}, r.Genres)
	assert.Equal(t, "2024 Acme Records", r.PLine)
	assert.Equal(t, []string{"US", "CA"}, r.Territories)

	require.Len(t, r.SoundRecordings, 1)
	rec := r.SoundRecordings[0]
	assert.Equal(t, "USRC12400001", rec.ISRC)
	assert.Equal(t, "Midnight Drive", rec.Title)
	assert.Equal(t, "The Gliders", rec.DisplayArtist)
	assert.Equal(t, "PT3M45S", rec.Duration)
	assert.Equal(t, "audio/midnight_drive.wav", rec.FilePath)

	require.Len(t, r.Images, 1)
	assert.True(t, r.Images[0].IsFrontCover())
	assert.Equal(t, "images/cover.jpg", r.Images[0].FilePath)
}

func TestParseDefaultsVersionAndProfile(t *testing.T) {
	p := New(zap.NewNop())

	msg, err := p.Parse([]byte(`<NewReleaseMessage>
  <MessageHeader><MessageId>M1</MessageId></MessageHeader>
  <ReleaseList><Release>
    <ReferenceTitle><TitleText>Untitled</TitleText></ReferenceTitle>
  </Release></ReleaseList>
</NewReleaseMessage>`))
	require.NoError(t, err)

	assert.Equal(t, DefaultVersion, msg.Version)
	assert.Equal(t, DefaultProfile, msg.Profile)
	require.Len(t, msg.Releases, 1)
	assert.Equal(t, "Untitled", msg.Releases[0].Title)
}

func TestParseExplicitMessageStandardWins(t *testing.T) {
	p := New(zap.NewNop())

	msg, err := p.Parse([]byte(`<NewReleaseMessage MessageSchemaVersionId="ern/382">
  <MessageHeader>
    <MessageId>M2</MessageId>
    <MessageStandard>ERN-4.1</MessageStandard>
  </MessageHeader>
</NewReleaseMessage>`))
	require.NoError(t, err)
	assert.Equal(t, "ERN-4.1", msg.Version)
}

func TestParseVersionFromRootNamespace(t *testing.T) {
	p := New(zap.NewNop())

	// No MessageStandard or MessageSchemaVersionId; the root element's ern
	// namespace carries the schema token.
	msg, err := p.Parse([]byte(`<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/41">
  <MessageHeader><MessageId>M3</MessageId></MessageHeader>
</ern:NewReleaseMessage>`))
	require.NoError(t, err)
	assert.Equal(t, "ERN-4.1", msg.Version)

	// Unknown namespaces still fall back to the family default.
	msg, err = p.Parse([]byte(`<NewReleaseMessage xmlns="http://example.test/not-ern">
  <MessageHeader><MessageId>M4</MessageId></MessageHeader>
</NewReleaseMessage>`))
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, msg.Version)
}

func TestParseMalformedXML(t *testing.T) {
	p := New(zap.NewNop())

	_, err := p.Parse([]byte(`<NewReleaseMessage><MessageHeader>`))
	assert.Error(t, err)

	_, err = p.Parse([]byte(``))
	assert.Error(t, err)
}

func TestParseReleaseClaimsAllResourcesWhenNoRefList(t *testing.T) {
	p := New(zap.NewNop())

	msg, err := p.Parse([]byte(`<NewReleaseMessage>
  <ResourceList>
    <SoundRecording>
      <SoundRecordingId><ISRC>USRC12400002</ISRC></SoundRecordingId>
      <ReferenceTitle><TitleText>Track One</TitleText></ReferenceTitle>
    </SoundRecording>
    <SoundRecording>
      <SoundRecordingId><ISRC>USRC12400003</ISRC></SoundRecordingId>
      <ReferenceTitle><TitleText>Track Two</TitleText></ReferenceTitle>
    </SoundRecording>
  </ResourceList>
  <ReleaseList><Release>
    <ReferenceTitle><TitleText>Two Tracks</TitleText></ReferenceTitle>
  </Release></ReleaseList>
</NewReleaseMessage>`))
	require.NoError(t, err)

	require.Len(t, msg.Releases, 1)
	require.Len(t, msg.Releases[0].SoundRecordings, 2)
	assert.Equal(t, "Track One", msg.Releases[0].SoundRecordings[0].Title)
	assert.Equal(t, "Track Two", msg.Releases[0].SoundRecordings[1].Title)
}
