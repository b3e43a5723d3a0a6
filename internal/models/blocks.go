package models

type BlockType string

const (
	BlockMessages            BlockType = "messages"
	BlockDeletedNotification BlockType = "deleted-notification"
)

// LogBlock is a display-friendly grouping of a conversation log: consecutive
// messages from the same sender collapse into one block, and hard-deleted
// messages become standalone notification blocks.
type LogBlock struct {
	Type     BlockType
	ID       int64
	SenderID int64
	Sender   User
	Messages []Message
}

func GroupLogBlocks(log []Message) []LogBlock {
	if len(log) == 0 {
		return nil
	}

	var blocks []LogBlock
	var block *LogBlock
	currentSender := log[0].SenderID

	commit := func() {
		if block != nil {
			blocks = append(blocks, *block)
		}
		block = nil
	}

	for i := range log {
		m := log[i]
		if m.Status == StatusDeleted {
			commit()
			blocks = append(blocks, LogBlock{Type: BlockDeletedNotification, ID: m.ID})
			continue
		}

		if m.SenderID != currentSender || block == nil || block.Type != BlockMessages {
			commit()
			block = &LogBlock{
				Type:     BlockMessages,
				ID:       m.ID,
				SenderID: m.SenderID,
				Sender:   m.Sender,
			}
			currentSender = m.SenderID
		}
		block.Messages = append(block.Messages, m)
	}
	commit()
	return blocks
}
