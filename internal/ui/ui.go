package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/abx/internal/state"
	"github.com/desertthunder/abx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ItemListView ViewState = iota
	DetailView
	SyncView
	ResultView
)

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	view   ViewState
	store  *state.Store
	syncer *tasks.Syncer
	width  int
	height int

	itemList     list.Model
	selected     *state.TrackedItem
	progressChan chan tasks.ProgressUpdate
	progress     tasks.ProgressUpdate
	result       *tasks.PassResult
	err          error
	help         help.Model
	keys         keyMap
}

type itemsRefreshedMsg struct {
	items []state.TrackedItem
}

type progressUpdateMsg tasks.ProgressUpdate

type syncCompleteMsg struct {
	result *tasks.PassResult
	err    error
}

// NewModel creates a new TUI model with the provided dependencies. syncer
// may be nil for a read-only browser.
func NewModel(ctx context.Context, store *state.Store, syncer *tasks.Syncer) *Model {
	return &Model{
		ctx:    ctx,
		view:   ItemListView,
		store:  store,
		syncer: syncer,
		help:   help.New(),
		keys:   newKeyMap(),
	}
}

// Init initializes the TUI by loading the tracked items.
func (m *Model) Init() tea.Cmd {
	return m.refreshItems()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.itemList.Width() == 0 {
			m.itemList.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ItemListView:
			return m.handleItemListKeys(msg)
		case DetailView:
			return m.handleDetailKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case itemsRefreshedMsg:
		items := make([]list.Item, len(msg.items))
		for i, item := range msg.items {
			items[i] = trackedItem{item: item}
		}
		m.itemList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.itemList.Title = "Tracked Audiobooks"
		m.itemList.SetSize(m.width-4, m.height-8)
		return m, nil

	case progressUpdateMsg:
		m.progress = tasks.ProgressUpdate(msg)
		return m, m.waitForProgress()

	case syncCompleteMsg:
		m.result = msg.result
		m.err = msg.err
		m.view = ResultView
		m.progressChan = nil
		return m, nil
	}

	return m.updateList(msg)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case ItemListView:
		return m.renderItemList()
	case DetailView:
		return m.renderDetail()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleItemListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		return m, m.refreshItems()
	case "s":
		if m.syncer != nil {
			m.view = SyncView
			return m, m.startSync()
		}
	case "enter":
		if selected := m.itemList.SelectedItem(); selected != nil {
			if it, ok := selected.(trackedItem); ok {
				item := it.item
				m.selected = &item
				m.view = DetailView
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.itemList, cmd = m.itemList.Update(msg)
	return m, cmd
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.view = ItemListView
		m.selected = nil
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "r":
		m.view = ItemListView
		m.result = nil
		m.err = nil
		return m, m.refreshItems()
	}
	return m, nil
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.view == ItemListView {
		m.itemList, cmd = m.itemList.Update(msg)
	}
	return m, cmd
}

func (m *Model) refreshItems() tea.Cmd {
	return func() tea.Msg {
		return itemsRefreshedMsg{items: m.store.TrackedItems()}
	}
}

func (m *Model) startSync() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	progressChan := m.progressChan

	go func() {
		result, err := m.syncer.RunPass(m.ctx, progressChan)
		m.result = result
		m.err = err
		close(progressChan)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		if m.progressChan == nil {
			return syncCompleteMsg{result: m.result, err: m.err}
		}

		update, ok := <-m.progressChan
		if !ok {
			return syncCompleteMsg{result: m.result, err: m.err}
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderItemList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.sync, m.keys.refresh, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.itemList.View(), helpView)
}

func (m *Model) renderDetail() string {
	if m.selected == nil {
		m.view = ItemListView
		return ""
	}
	st := m.selected.Status

	title := styles.title.Render(m.selected.ASIN)
	info := fmt.Sprintf(
		"\nAudible position:  %s\nShelf position:    %s\n\nAudible changed:   %s\nShelf changed:     %s\nPushed to audible: %s\nPushed to shelf:   %s\n",
		formatPosition(float64(st.LastSeenAudibleMS)/1000.0),
		formatPosition(st.LastSeenShelfS),
		formatTime(st.AudibleChangedAt),
		formatTime(st.ShelfChangedAt),
		formatTime(st.AudiblePushedAt),
		formatTime(st.ShelfPushedAt),
	)

	var status string
	if st.ErrorCount > 0 {
		status = styles.warn.Render(fmt.Sprintf("\n%d errors, last result: %s\n", st.ErrorCount, st.LastResult))
	} else if st.LastResult != "" {
		status = styles.ok.Render(fmt.Sprintf("\nLast result: %s\n", st.LastResult))
	}

	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s%s\n%s", title, info, status, helpView)
}

func (m *Model) renderSync() string {
	title := styles.title.Render("Running Sync Pass")

	var phase string
	switch m.progress.Phase {
	case tasks.FetchShelf:
		phase = "Fetching shelf progress..."
	case tasks.FetchRecent:
		phase = "Fetching Audible activity..."
	case tasks.FetchPositions:
		phase = "Fetching Audible positions..."
	case tasks.Reconcile:
		phase = fmt.Sprintf("Reconciling (%d/%d)", m.progress.Step, m.progress.Total)
	case tasks.Push:
		phase = "Pushing updates..."
	default:
		phase = "Processing..."
	}

	return fmt.Sprintf("%s\n\n%s\n%s", title, phase, m.progress.Message)
}

func (m *Model) renderResult() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Sync failed: %v\n\nPress r to go back, q to quit", m.err))
	}

	if m.result == nil {
		return styles.err.Render("No result available\n\nPress r to go back, q to quit")
	}

	title := styles.ok.Render("✓ Sync Pass Complete")
	info := fmt.Sprintf(
		"\nCandidates: %d\nReconciled: %d\nPushed to Audible: %d\nPushed to shelf: %d\nErrors: %d",
		m.result.Candidates,
		m.result.Reconciled,
		m.result.PushedAudible,
		m.result.PushedShelf,
		m.result.Errors,
	)

	helpKeys := []key.Binding{m.keys.refresh, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}
