package state

import (
	"encoding/binary"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"charityledger/native/donation"
)

var (
	donationServiceKey        = ethcrypto.Keccak256([]byte("donation/service"))
	donationCampaignPrefix    = []byte("donation/campaign/")
	donationContributorPrefix = []byte("donation/contributor/")
)

func donationCampaignKey(id uint64) []byte {
	buf := make([]byte, len(donationCampaignPrefix)+8)
	copy(buf, donationCampaignPrefix)
	binary.BigEndian.PutUint64(buf[len(donationCampaignPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func donationContributorKey(id uint64, contributor [20]byte) []byte {
	buf := make([]byte, len(donationContributorPrefix)+8+len(contributor))
	copy(buf, donationContributorPrefix)
	binary.BigEndian.PutUint64(buf[len(donationContributorPrefix):], id)
	copy(buf[len(donationContributorPrefix)+8:], contributor[:])
	return ethcrypto.Keccak256(buf)
}

// DonationServiceGet loads the service ledger singleton.
func (m *Manager) DonationServiceGet() (*donation.ServiceLedger, bool, error) {
	svc := new(donation.ServiceLedger)
	ok, err := m.getRLP(donationServiceKey, svc)
	if err != nil || !ok {
		return nil, false, err
	}
	return svc, true, nil
}

// DonationServicePut persists the service ledger singleton.
func (m *Manager) DonationServicePut(svc *donation.ServiceLedger) error {
	if svc == nil {
		return errors.New("state: nil service ledger")
	}
	return m.putRLP(donationServiceKey, svc)
}

// DonationCampaignGet loads campaign id.
func (m *Manager) DonationCampaignGet(id uint64) (*donation.Campaign, bool, error) {
	campaign := new(donation.Campaign)
	ok, err := m.getRLP(donationCampaignKey(id), campaign)
	if err != nil || !ok {
		return nil, false, err
	}
	return campaign, true, nil
}

// DonationCampaignPut persists a campaign under its id.
func (m *Manager) DonationCampaignPut(campaign *donation.Campaign) error {
	if campaign == nil {
		return errors.New("state: nil campaign")
	}
	return m.putRLP(donationCampaignKey(campaign.ID), campaign)
}

// DonationContributorGet loads the record of contributor within campaign id.
func (m *Manager) DonationContributorGet(id uint64, contributor [20]byte) (*donation.ContributorRecord, bool, error) {
	record := new(donation.ContributorRecord)
	ok, err := m.getRLP(donationContributorKey(id, contributor), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// DonationContributorPut persists a contributor record.
func (m *Manager) DonationContributorPut(record *donation.ContributorRecord) error {
	if record == nil {
		return errors.New("state: nil contributor record")
	}
	return m.putRLP(donationContributorKey(record.CampaignID, record.Contributor), record)
}
